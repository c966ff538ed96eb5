package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/taskreport/internal/metrics"
	"gorm.io/gorm"
)

// RegisterDBGauges exposes connection pool stats on m.
func RegisterDBGauges(m *metrics.Metrics, db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	m.RegisterGauge("db_open_connections", "Number of open DB connections.", func() float64 {
		return float64(sqlDB.Stats().OpenConnections)
	})
	m.RegisterGauge("db_in_use_connections", "Number of in-use DB connections.", func() float64 {
		return float64(sqlDB.Stats().InUse)
	})
}

// Metrics serves the Prometheus registry.
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return gin.WrapH(m.Handler())
}
