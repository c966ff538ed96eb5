package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/huangang/taskreport/internal/services"
	"gorm.io/gorm"
)

// HealthHandler reports the state of the subsystems the scheduler depends on.
type HealthHandler struct {
	db       *gorm.DB
	queue    services.TaskQueue
	mail     *services.EmailService
	pipeline *services.ReportPipeline
}

func NewHealthHandler(db *gorm.DB, queue services.TaskQueue, mail *services.EmailService, pipeline *services.ReportPipeline) *HealthHandler {
	return &HealthHandler{db: db, queue: queue, mail: mail, pipeline: pipeline}
}

// CheckHealth returns the health status of all subsystems.
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	overall := "healthy"
	status := http.StatusOK

	dbStatus := "ok"
	sqlDB, err := h.db.DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
	} else if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		dbStatus = "error: " + err.Error()
	}
	if dbStatus != "ok" {
		overall = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	queueMode := "sync"
	if h.queue != nil && h.queue.IsAsync() {
		queueMode = "async (Redis)"
	}

	mailStatus := "disabled"
	if h.mail != nil && h.mail.Enabled() {
		mailStatus = "enabled"
	}

	running := 0
	if h.pipeline != nil {
		running = len(h.pipeline.Active())
	}

	c.JSON(status, gin.H{
		"status":  overall,
		"service": "taskreport",
		"components": gin.H{
			"database":        dbStatus,
			"queue_mode":      queueMode,
			"mail":            mailStatus,
			"reports_running": running,
		},
	})
}
