package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/huangang/taskreport/internal/models"
	"github.com/huangang/taskreport/pkg/logger"
)

// Recipient is one resolved mail address of a report.
type Recipient struct {
	UserID uint   `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

type RecipientResolver struct {
	dir TeamDirectory
}

func NewRecipientResolver(dir TeamDirectory) *RecipientResolver {
	return &RecipientResolver{dir: dir}
}

// ResolveUserIDs returns master recipients, plus leaders and members of the reporting
// teams when enabled, as a sorted set of user ids.
func (r *RecipientResolver) ResolveUserIDs(ctx context.Context, c *models.ReportMailConfiguration) ([]uint, error) {
	set := make(map[uint]struct{}, len(c.MasterRecipients))
	for _, id := range c.MasterRecipients {
		set[id] = struct{}{}
	}

	if c.ReportToTeamLeads && len(c.ReportingTeams) > 0 {
		leaders, err := r.dir.TeamLeaders(ctx, c.ReportingTeams)
		if err != nil {
			return nil, fmt.Errorf("failed to load team leaders: %w", err)
		}
		for _, id := range leaders {
			set[id] = struct{}{}
		}
	}
	if c.ReportToTeamMembers && len(c.ReportingTeams) > 0 {
		members, err := r.dir.TeamMembers(ctx, c.ReportingTeams)
		if err != nil {
			return nil, fmt.Errorf("failed to load team members: %w", err)
		}
		for _, id := range members {
			set[id] = struct{}{}
		}
	}

	ids := make([]uint, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Resolve maps the recipient set to distinct addresses of active users.
// Users without an address are skipped.
func (r *RecipientResolver) Resolve(ctx context.Context, c *models.ReportMailConfiguration) ([]Recipient, error) {
	ids, err := r.ResolveUserIDs(ctx, c)
	if err != nil {
		return nil, err
	}
	users, err := r.dir.Users(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load recipients: %w", err)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })

	seen := make(map[string]bool, len(users))
	recipients := make([]Recipient, 0, len(users))
	for i := range users {
		u := &users[i]
		if !u.IsActive {
			continue
		}
		email := strings.TrimSpace(u.Email)
		if email == "" {
			logger.Warnf("[Recipients] user %d (%s) has no email address, skipped for report %q", u.ID, u.Login, c.Name)
			continue
		}
		key := strings.ToLower(email)
		if seen[key] {
			continue
		}
		seen[key] = true
		recipients = append(recipients, Recipient{UserID: u.ID, Name: u.DisplayName(), Email: email})
	}
	return recipients, nil
}

// Addresses returns just the mail addresses.
func Addresses(recipients []Recipient) []string {
	out := make([]string, len(recipients))
	for i, r := range recipients {
		out[i] = r.Email
	}
	return out
}
