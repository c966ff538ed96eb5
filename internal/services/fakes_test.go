package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/huangang/taskreport/internal/docgen"
	"github.com/huangang/taskreport/internal/models"
)

// memoryStore is a ConfigStore over a map with the same compare-and-set rules as
// ReportConfigService.MarkFired.
type memoryStore struct {
	mu      sync.Mutex
	configs map[uint]models.ReportMailConfiguration
	listErr error
	marks   int
}

func newMemoryStore(configs ...models.ReportMailConfiguration) *memoryStore {
	s := &memoryStore{configs: make(map[uint]models.ReportMailConfiguration)}
	for _, c := range configs {
		s.configs[c.ID] = c
	}
	return s
}

func (s *memoryStore) ListActive(context.Context) ([]models.ReportMailConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []models.ReportMailConfiguration
	for _, c := range s.configs {
		if c.Active {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) Get(_ context.Context, id uint) (*models.ReportMailConfiguration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.configs[id]
	if !ok {
		return nil, ErrConfigNotFound
	}
	return &c, nil
}

func (s *memoryStore) MarkFired(_ context.Context, id uint, previous *time.Time, firedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.configs[id]
	if !ok {
		return ErrFireConflict
	}
	switch {
	case previous == nil && c.LastFiredAt != nil,
		previous != nil && (c.LastFiredAt == nil || !c.LastFiredAt.Equal(*previous)):
		return ErrFireConflict
	}
	fired := firedAt
	c.LastFiredAt = &fired
	s.configs[id] = c
	s.marks++
	return nil
}

func (s *memoryStore) lastFired(id uint) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configs[id].LastFiredAt
}

type fakeContent struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeContent) Assemble(_ context.Context, teamIDs []uint, from, to time.Time) (*docgen.Content, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c := &docgen.Content{PeriodStart: from, PeriodEnd: to}
	for range teamIDs {
		c.Sections = append(c.Sections, docgen.Section{
			Heading: "Team",
			Entries: []docgen.Entry{{Title: "progress", Task: "task", CreatedAt: from.Add(time.Hour)}},
		})
	}
	return c, nil
}

type fakeSink struct {
	mu      sync.Mutex
	sent    []*Message
	err     error
	panics  bool
	delay   time.Duration
	running int
	maxRun  int

	// messages whose subject equals gateSubject block until gate is closed
	gate        chan struct{}
	gateSubject string
}

func (f *fakeSink) Send(ctx context.Context, msg *Message) error {
	f.mu.Lock()
	f.running++
	if f.running > f.maxRun {
		f.maxRun = f.running
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.running--
		f.mu.Unlock()
	}()

	if f.panics {
		panic("sink exploded")
	}
	if f.gate != nil && msg.Subject == f.gateSubject {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeRecorder struct {
	mu   sync.Mutex
	rows []models.ReportDelivery
}

func (f *fakeRecorder) Record(_ context.Context, d *models.ReportDelivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, *d)
	return nil
}

func (f *fakeRecorder) last() models.ReportDelivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[len(f.rows)-1]
}

type fakeSummarizer struct {
	summary string
	err     error
}

func (f *fakeSummarizer) Summarize(context.Context, *docgen.Content) (string, error) {
	return f.summary, f.err
}

var errTransport = errors.New("smtp: connection refused")

// scheduledConfig returns an active configuration firing at hour:minute and
// mailing user 7.
func scheduledConfig(id uint, period string, hour, minute int) models.ReportMailConfiguration {
	return models.ReportMailConfiguration{
		ID:               id,
		Name:             "report",
		ReportingTeams:   []uint{1},
		MasterRecipients: []uint{7},
		ReportPeriod:     period,
		ReportHour:       intPtr(hour),
		ReportMinute:     intPtr(minute),
		ReportFormat:     string(docgen.FormatPlainText),
		Active:           true,
	}
}

func mailDirectory() *fakeDirectory {
	return &fakeDirectory{
		leaders: map[uint][]uint{1: {7}},
		members: map[uint][]uint{1: {7, 8}},
		users: map[uint]models.User{
			7: {ID: 7, FullName: "Alice", Email: "alice@example.com", IsActive: true},
			8: {ID: 8, FullName: "Bob", Email: "bob@example.com", IsActive: true},
		},
	}
}
