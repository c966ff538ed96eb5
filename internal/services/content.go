package services

import (
	"context"
	"fmt"
	"time"

	"github.com/huangang/taskreport/internal/docgen"
	"github.com/huangang/taskreport/internal/models"
	"gorm.io/gorm"
)

// ContentSource assembles the report body for a set of teams and a time window.
type ContentSource interface {
	Assemble(ctx context.Context, teamIDs []uint, from, to time.Time) (*docgen.Content, error)
}

type ProgressContentSource struct {
	db *gorm.DB
}

func NewProgressContentSource(db *gorm.DB) *ProgressContentSource {
	return &ProgressContentSource{db: db}
}

type progressRow struct {
	ID        uint
	TaskID    uint
	OwnerID   uint
	Title     string
	Text      string
	CreatedAt time.Time
	TaskTitle string
	TeamID    uint
}

// Assemble returns one section per existing team, ordered by team name, listing the
// progress entries written on the team's tasks in [from, to), oldest first.
func (s *ProgressContentSource) Assemble(ctx context.Context, teamIDs []uint, from, to time.Time) (*docgen.Content, error) {
	content := &docgen.Content{PeriodStart: from, PeriodEnd: to}
	if len(teamIDs) == 0 {
		return content, nil
	}

	db := s.db.WithContext(ctx)

	var teams []models.Team
	if err := db.Where("id IN ?", teamIDs).Order("name ASC").Find(&teams).Error; err != nil {
		return nil, fmt.Errorf("failed to load teams: %w", err)
	}

	var rows []progressRow
	err := db.Table("progress").
		Select("progress.id, progress.task_id, progress.owner_id, progress.title, progress.text, progress.created_at, tasks.title AS task_title, tasks.team_id").
		Joins("JOIN tasks ON tasks.id = progress.task_id AND tasks.deleted_at IS NULL").
		Where("tasks.team_id IN ?", teamIDs).
		Where("progress.deleted_at IS NULL").
		Where("progress.created_at >= ? AND progress.created_at < ?", from.UTC(), to.UTC()).
		Order("progress.created_at ASC, progress.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load progress: %w", err)
	}

	authors, err := s.authorNames(db, rows)
	if err != nil {
		return nil, err
	}

	byTeam := make(map[uint][]docgen.Entry, len(teams))
	for _, r := range rows {
		byTeam[r.TeamID] = append(byTeam[r.TeamID], docgen.Entry{
			Title:     r.Title,
			Body:      r.Text,
			Author:    authors[r.OwnerID],
			Task:      r.TaskTitle,
			CreatedAt: r.CreatedAt,
		})
	}
	for _, team := range teams {
		content.Sections = append(content.Sections, docgen.Section{
			Heading: team.Name,
			Entries: byTeam[team.ID],
		})
	}
	return content, nil
}

func (s *ProgressContentSource) authorNames(db *gorm.DB, rows []progressRow) (map[uint]string, error) {
	names := make(map[uint]string)
	if len(rows) == 0 {
		return names, nil
	}
	ids := make([]uint, 0, len(rows))
	for _, r := range rows {
		if _, ok := names[r.OwnerID]; !ok {
			names[r.OwnerID] = ""
			ids = append(ids, r.OwnerID)
		}
	}
	var users []models.User
	if err := db.Unscoped().Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to load authors: %w", err)
	}
	for i := range users {
		names[users[i].ID] = users[i].DisplayName()
	}
	return names, nil
}
