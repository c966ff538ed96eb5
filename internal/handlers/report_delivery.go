package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/taskreport/internal/services"
	"github.com/huangang/taskreport/pkg/response"
)

type ReportDeliveryHandler struct {
	service *services.DeliveryLogService
}

func NewReportDeliveryHandler(service *services.DeliveryLogService) *ReportDeliveryHandler {
	return &ReportDeliveryHandler{service: service}
}

// List returns delivery history, newest first
// GET /api/report-deliveries?config_id=&status=&start_date=&end_date=
func (h *ReportDeliveryHandler) List(c *gin.Context) {
	var req services.DeliveryListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.service.List(c.Request.Context(), &req)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, resp)
}
