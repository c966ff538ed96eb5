package services

import (
	"context"
	"strings"

	"github.com/huangang/taskreport/internal/models"
	"gorm.io/gorm"
)

// TeamDirectory answers the team and user questions report generation asks.
// Leaders are a subset of members: a membership row with IsLeader set.
type TeamDirectory interface {
	TeamLeaders(ctx context.Context, teamIDs []uint) ([]uint, error)
	TeamMembers(ctx context.Context, teamIDs []uint) ([]uint, error)
	Teams(ctx context.Context, teamIDs []uint) ([]models.Team, error)
	Users(ctx context.Context, userIDs []uint) ([]models.User, error)
}

type TeamDirectoryService struct {
	db *gorm.DB
}

func NewTeamDirectoryService(db *gorm.DB) *TeamDirectoryService {
	return &TeamDirectoryService{db: db}
}

func (s *TeamDirectoryService) TeamLeaders(ctx context.Context, teamIDs []uint) ([]uint, error) {
	return s.memberIDs(ctx, teamIDs, true)
}

func (s *TeamDirectoryService) TeamMembers(ctx context.Context, teamIDs []uint) ([]uint, error) {
	return s.memberIDs(ctx, teamIDs, false)
}

func (s *TeamDirectoryService) memberIDs(ctx context.Context, teamIDs []uint, leadersOnly bool) ([]uint, error) {
	if len(teamIDs) == 0 {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.TeamMembership{}).
		Joins("JOIN teams ON teams.id = team_memberships.team_id AND teams.deleted_at IS NULL").
		Where("team_memberships.team_id IN ?", teamIDs)
	if leadersOnly {
		query = query.Where("team_memberships.is_leader = ?", true)
	}
	var ids []uint
	err := query.Distinct().Order("team_memberships.user_id").Pluck("team_memberships.user_id", &ids).Error
	return ids, err
}

// Teams returns the existing teams among teamIDs ordered by name.
func (s *TeamDirectoryService) Teams(ctx context.Context, teamIDs []uint) ([]models.Team, error) {
	if len(teamIDs) == 0 {
		return nil, nil
	}
	var teams []models.Team
	err := s.db.WithContext(ctx).Where("id IN ?", teamIDs).Order("name ASC").Find(&teams).Error
	return teams, err
}

// Users returns the existing users among userIDs ordered by id.
func (s *TeamDirectoryService) Users(ctx context.Context, userIDs []uint) ([]models.User, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var users []models.User
	err := s.db.WithContext(ctx).Where("id IN ?", userIDs).Order("id ASC").Find(&users).Error
	return users, err
}

// TeamsLedBy returns the teams userID leads, ordered by name.
func (s *TeamDirectoryService) TeamsLedBy(ctx context.Context, userID uint) ([]models.Team, error) {
	var teams []models.Team
	err := s.db.WithContext(ctx).
		Joins("JOIN team_memberships ON team_memberships.team_id = teams.id").
		Where("team_memberships.user_id = ? AND team_memberships.is_leader = ?", userID, true).
		Order("teams.name ASC").
		Find(&teams).Error
	return teams, err
}

// TeamsOf returns every team userID belongs to, ordered by name.
func (s *TeamDirectoryService) TeamsOf(ctx context.Context, userID uint) ([]models.Team, error) {
	var teams []models.Team
	err := s.db.WithContext(ctx).
		Joins("JOIN team_memberships ON team_memberships.team_id = teams.id").
		Where("team_memberships.user_id = ?", userID).
		Order("teams.name ASC").
		Find(&teams).Error
	return teams, err
}

// SearchTeams matches filter against team name and description.
func (s *TeamDirectoryService) SearchTeams(ctx context.Context, filter string) ([]models.Team, error) {
	query := s.db.WithContext(ctx).Model(&models.Team{})
	if filter = strings.TrimSpace(filter); filter != "" {
		like := "%" + strings.ToLower(filter) + "%"
		query = query.Where("LOWER(name) LIKE ? OR LOWER(description) LIKE ?", like, like)
	}
	var teams []models.Team
	err := query.Order("name ASC").Find(&teams).Error
	return teams, err
}
