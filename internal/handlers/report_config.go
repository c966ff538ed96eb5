package handlers

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/taskreport/internal/docgen"
	"github.com/huangang/taskreport/internal/services"
	"github.com/huangang/taskreport/pkg/response"
)

type ReportConfigHandler struct {
	configs    *services.ReportConfigService
	pipeline   *services.ReportPipeline
	dispatcher *services.Dispatcher
}

func NewReportConfigHandler(configs *services.ReportConfigService, pipeline *services.ReportPipeline, dispatcher *services.Dispatcher) *ReportConfigHandler {
	return &ReportConfigHandler{configs: configs, pipeline: pipeline, dispatcher: dispatcher}
}

// List returns paginated report configurations, filtered by name substring
// GET /api/report-configs?filter=
func (h *ReportConfigHandler) List(c *gin.Context) {
	var req services.ReportConfigListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.configs.List(c.Request.Context(), &req)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, resp)
}

// GET /api/report-configs/:id
func (h *ReportConfigHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	cfg, err := h.configs.Get(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, services.NewReportMailConfigurationDTO(cfg))
}

// POST /api/report-configs
func (h *ReportConfigHandler) Create(c *gin.Context) {
	var dto services.ReportMailConfigurationDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	cfg, err := h.configs.Create(c.Request.Context(), &dto)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Created(c, services.NewReportMailConfigurationDTO(cfg))
}

// PUT /api/report-configs/:id
func (h *ReportConfigHandler) Update(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var dto services.ReportMailConfigurationDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	cfg, err := h.configs.Update(c.Request.Context(), id, &dto)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, services.NewReportMailConfigurationDTO(cfg))
}

// DELETE /api/report-configs/:id
func (h *ReportConfigHandler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.configs.Delete(c.Request.Context(), id); err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "report configuration deleted"})
}

// Schedule shows when a configuration runs next and what it is doing now
// GET /api/report-configs/:id/schedule
func (h *ReportConfigHandler) Schedule(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	cfg, err := h.configs.Get(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	data := gin.H{
		"id":            cfg.ID,
		"active":        cfg.Active,
		"stage":         h.pipeline.Stage(cfg.ID),
		"last_fired_at": cfg.LastFiredAt,
		"next_run_at":   nil,
	}
	if rule, err := cfg.Rule(); err == nil && rule.Validate() == nil {
		data["rule"] = rule.String()
	}
	if next, ok := h.dispatcher.Upcoming(cfg, time.Now()); ok {
		data["next_run_at"] = next
	}
	response.Success(c, data)
}

// Generate renders the report on demand and returns the document
// POST /api/report-configs/:id/generate?format=PDF
func (h *ReportConfigHandler) Generate(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	cfg, err := h.configs.Get(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	format := cfg.Format()
	if q := c.Query("format"); q != "" {
		if format, err = docgen.ParseFormat(q); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	report, err := h.pipeline.Generate(c.Request.Context(), cfg, format, time.Now())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.File(c, report.FileName(), report.ContentType(), report.Data)
}

// Send runs the full pipeline now without touching the schedule
// POST /api/report-configs/:id/send
func (h *ReportConfigHandler) Send(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	res, err := h.dispatcher.SendNow(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	response.Success(c, gin.H{
		"run_id":     res.RunID,
		"status":     res.Status,
		"entries":    res.Entries,
		"recipients": res.Recipients,
	})
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid id")
		return 0, false
	}
	return uint(id), true
}

// respondServiceError maps service errors onto API errors.
func respondServiceError(c *gin.Context, err error) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		response.Error(c, response.NewValidation("invalid report configuration", verr.Details()))
	case errors.Is(err, services.ErrConfigNotFound):
		response.NotFound(c, "report configuration not found")
	case errors.Is(err, services.ErrRunInProgress):
		response.Error(c, response.NewConflict(err.Error()))
	case errors.Is(err, docgen.ErrUnsupportedFormat):
		response.BadRequest(c, err.Error())
	default:
		response.ServerError(c, err.Error())
	}
}
