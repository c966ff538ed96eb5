package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/taskreport/internal/docgen"
	"github.com/huangang/taskreport/internal/schedule"
	"github.com/huangang/taskreport/internal/services"
	"github.com/huangang/taskreport/pkg/response"
)

// DirectoryHandler serves the lookups the report configuration form needs.
type DirectoryHandler struct {
	directory *services.TeamDirectoryService
	holidays  *services.HolidayService
}

func NewDirectoryHandler(directory *services.TeamDirectoryService, holidays *services.HolidayService) *DirectoryHandler {
	return &DirectoryHandler{directory: directory, holidays: holidays}
}

// SearchTeams returns teams matching filter by name or description
// GET /api/teams?filter=
func (h *DirectoryHandler) SearchTeams(c *gin.Context) {
	teams, err := h.directory.SearchTeams(c.Request.Context(), c.Query("filter"))
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, teams)
}

// TeamMembers returns the leader and member ids of a team
// GET /api/teams/:id/members
func (h *DirectoryHandler) TeamMembers(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	ids := []uint{id}

	teams, err := h.directory.Teams(ctx, ids)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	if len(teams) == 0 {
		response.NotFound(c, "team not found")
		return
	}
	leaders, err := h.directory.TeamLeaders(ctx, ids)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	members, err := h.directory.TeamMembers(ctx, ids)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	users, err := h.directory.Users(ctx, members)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"team":    teams[0],
		"leaders": leaders,
		"members": users,
	})
}

// Options lists the values accepted by the schedule and format fields
// GET /api/report-options
func (h *DirectoryHandler) Options(c *gin.Context) {
	weekdays := make([]string, 0, 7)
	for d := 1; d <= 7; d++ {
		weekdays = append(weekdays, schedule.WeekdayName(time.Weekday(d%7)))
	}
	response.Success(c, gin.H{
		"periods":           schedule.ValidPeriods,
		"weekdays":          weekdays,
		"formats":           docgen.Formats(),
		"holiday_countries": h.holidays.SupportedCountries(),
	})
}
