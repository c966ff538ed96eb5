package services

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/huangang/taskreport/internal/models"
)

func weeklyDTO(name string) *ReportMailConfigurationDTO {
	return &ReportMailConfigurationDTO{
		Name:              name,
		MailSenderName:    "Task Tracker",
		MailSubject:       "Weekly report",
		MailText:          "Hello team",
		ReportingTeams:    []uint{1},
		MasterRecipients:  []uint{7},
		ReportToTeamLeads: true,
		ReportPeriod:      "weekly",
		ReportWeekDay:     "Wednesday",
		ReportHour:        9,
	}
}

func TestNewReportMailConfigurationDTO_Defaults(t *testing.T) {
	c := &models.ReportMailConfiguration{ID: 3, Name: "bare"}
	dto := NewReportMailConfigurationDTO(c)

	if dto.ReportPeriod != "" || dto.ReportWeekDay != "" {
		t.Errorf("unset period/weekday should be empty, got %q/%q", dto.ReportPeriod, dto.ReportWeekDay)
	}
	if dto.ReportHour != 0 || dto.ReportMinute != 0 || dto.ReportDayOfMonth != 0 {
		t.Errorf("unset time fields should be 0, got %d:%d day %d", dto.ReportHour, dto.ReportMinute, dto.ReportDayOfMonth)
	}
	if dto.ReportingTeams != nil || dto.MasterRecipients != nil {
		t.Error("nil id collections should stay nil")
	}
	if dto.Active == nil || *dto.Active {
		t.Error("Active should be a pointer to the entity value (false)")
	}
}

func TestReportMailConfigurationDTO_RoundTrip(t *testing.T) {
	fired := time.Date(2026, 10, 7, 9, 0, 0, 0, time.UTC)
	original := models.ReportMailConfiguration{
		ID:                  12,
		Name:                "Platform weekly",
		MailSenderName:      "Tracker",
		MailSubject:         "Week {{.PeriodStart}}",
		MailText:            "See attachment",
		ReportingTeams:      []uint{1, 4},
		MasterRecipients:    []uint{7, 9},
		ReportToTeamLeads:   true,
		ReportToTeamMembers: true,
		ReportPeriod:        "WEEKLY",
		ReportWeekDay:       "WEDNESDAY",
		ReportHour:          intPtr(9),
		ReportMinute:        intPtr(30),
		ReportDayOfMonth:    intPtr(0),
		ReportFormat:        "XLSX",
		HolidayCountry:      "DE",
		Active:              true,
		LastFiredAt:         &fired,
	}

	dto := NewReportMailConfigurationDTO(&original)
	dto.MailSubject = "edited"

	roundTrip := original
	dto.ApplyTo(&roundTrip)

	want := original
	want.MailSubject = "edited"
	if !reflect.DeepEqual(roundTrip, want) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", roundTrip, want)
	}

	// unset optional fields come back as their normalized zero values
	bare := models.ReportMailConfiguration{Name: "bare"}
	bareDTO := NewReportMailConfigurationDTO(&bare)
	bareDTO.ApplyTo(&bare)
	if bare.ReportHour == nil || *bare.ReportHour != 0 {
		t.Errorf("ReportHour = %v, expected pointer to 0", bare.ReportHour)
	}
	if bare.ReportingTeams != nil {
		t.Error("nil teams should stay nil")
	}
}

func TestReportMailConfigurationDTO_Normalize(t *testing.T) {
	dto := &ReportMailConfigurationDTO{
		Name:             "  daily  ",
		ReportPeriod:     "daily",
		ReportWeekDay:    "monday",
		ReportFormat:     "txt",
		HolidayCountry:   " us",
		ReportingTeams:   []uint{3, 1, 3},
		MasterRecipients: []uint{7, 7},
	}
	dto.Normalize()

	if dto.Name != "daily" || dto.ReportPeriod != "DAILY" || dto.ReportFormat != "PlainText" || dto.HolidayCountry != "US" {
		t.Errorf("unexpected normalization %+v", dto)
	}
	if dto.ReportWeekDay != "" {
		t.Errorf("weekday should be cleared for daily reports, got %q", dto.ReportWeekDay)
	}
	if !reflect.DeepEqual(dto.ReportingTeams, []uint{3, 1}) || !reflect.DeepEqual(dto.MasterRecipients, []uint{7}) {
		t.Errorf("ids not deduplicated: %v %v", dto.ReportingTeams, dto.MasterRecipients)
	}
}

func TestValidateReportConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(d *ReportMailConfigurationDTO)
		wantField string
	}{
		{"valid", func(d *ReportMailConfigurationDTO) {}, ""},
		{"no period is valid", func(d *ReportMailConfigurationDTO) { d.ReportPeriod = ""; d.ReportWeekDay = "" }, ""},
		{"empty name", func(d *ReportMailConfigurationDTO) { d.Name = "" }, "name"},
		{"weekly without weekday", func(d *ReportMailConfigurationDTO) { d.ReportWeekDay = "" }, "reportWeekDay"},
		{"bad weekday", func(d *ReportMailConfigurationDTO) { d.ReportWeekDay = "Funday" }, "reportWeekDay"},
		{"bad period", func(d *ReportMailConfigurationDTO) { d.ReportPeriod = "HOURLY" }, "reportPeriod"},
		{"hour too large", func(d *ReportMailConfigurationDTO) { d.ReportHour = 24 }, "reportHour"},
		{"negative minute", func(d *ReportMailConfigurationDTO) { d.ReportMinute = -1 }, "reportMinute"},
		{"minute 60", func(d *ReportMailConfigurationDTO) { d.ReportMinute = 60 }, "reportMinute"},
		{"day of month", func(d *ReportMailConfigurationDTO) { d.ReportPeriod = "MONTHLY"; d.ReportDayOfMonth = 32 }, "reportDayOfMonth"},
		{"unknown format", func(d *ReportMailConfigurationDTO) { d.ReportFormat = "DOCX" }, "reportFormat"},
		{"unknown country", func(d *ReportMailConfigurationDTO) { d.HolidayCountry = "XX" }, "holidayCountry"},
		{"zero team id", func(d *ReportMailConfigurationDTO) { d.ReportingTeams = []uint{1, 0} }, "reportingTeams[1]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dto := weeklyDTO("weekly")
			tt.mutate(dto)
			err := ValidateReportConfig(dto)

			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("expected valid, got %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if !verr.Has(tt.wantField) {
				t.Errorf("expected error on %q, got %v", tt.wantField, verr.Details())
			}
		})
	}
}

func TestReportConfigService_CreateAndGet(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, 7, "alice", "alice@example.com")
	seedTeam(t, db, 1, "Platform", []uint{7}, nil)
	svc := NewReportConfigService(db)
	ctx := context.Background()

	created, err := svc.Create(ctx, weeklyDTO("Platform weekly"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !created.Active {
		t.Error("new configurations should default to active")
	}
	if created.ReportPeriod != "WEEKLY" || created.ReportWeekDay != "WEDNESDAY" {
		t.Errorf("schedule not normalized: %s %s", created.ReportPeriod, created.ReportWeekDay)
	}

	got, err := svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !reflect.DeepEqual(got.ReportingTeams, []uint{1}) || !reflect.DeepEqual(got.MasterRecipients, []uint{7}) {
		t.Errorf("id lists not persisted: %v %v", got.ReportingTeams, got.MasterRecipients)
	}

	if _, err := svc.Get(ctx, 999); !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("Get(999) error = %v, expected ErrConfigNotFound", err)
	}
}

func TestReportConfigService_CreateRejectsBadReferences(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, 7, "alice", "alice@example.com")
	seedTeam(t, db, 1, "Platform", nil, nil)
	svc := NewReportConfigService(db)
	ctx := context.Background()

	if _, err := svc.Create(ctx, weeklyDTO("first")); err != nil {
		t.Fatal(err)
	}

	dto := weeklyDTO("first")
	dto.ReportingTeams = []uint{1, 2}
	dto.MasterRecipients = []uint{8}
	_, err := svc.Create(ctx, dto)

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	for _, field := range []string{"name", "reportingTeams", "masterRecipients"} {
		if !verr.Has(field) {
			t.Errorf("expected error on %q, got %v", field, verr.Details())
		}
	}
}

func TestReportConfigService_UpdateDelete(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, 7, "alice", "alice@example.com")
	seedTeam(t, db, 1, "Platform", nil, nil)
	svc := NewReportConfigService(db)
	ctx := context.Background()

	c, err := svc.Create(ctx, weeklyDTO("weekly"))
	if err != nil {
		t.Fatal(err)
	}

	dto := NewReportMailConfigurationDTO(c)
	dto.ReportPeriod = "DAILY"
	dto.Active = boolPtr(false)
	updated, err := svc.Update(ctx, c.ID, &dto)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.ReportPeriod != "DAILY" || updated.ReportWeekDay != "" || updated.Active {
		t.Errorf("unexpected update result %+v", updated)
	}

	// renaming onto itself is not a duplicate
	if _, err := svc.Update(ctx, c.ID, &dto); err != nil {
		t.Errorf("second Update() error = %v", err)
	}

	if _, err := svc.Update(ctx, 404, &dto); !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("Update(404) error = %v", err)
	}

	if err := svc.Delete(ctx, c.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := svc.Delete(ctx, c.ID); !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("second Delete() error = %v", err)
	}

	// a deleted name can be reused
	if _, err := svc.Create(ctx, weeklyDTO("weekly")); err != nil {
		t.Errorf("Create() after delete error = %v", err)
	}
}

func TestReportConfigService_SearchAndListActive(t *testing.T) {
	db := newTestDB(t)
	svc := NewReportConfigService(db)
	ctx := context.Background()

	for _, d := range []*ReportMailConfigurationDTO{
		{Name: "Platform weekly", ReportPeriod: "DAILY"},
		{Name: "Mobile daily", ReportPeriod: "DAILY"},
		{Name: "platform monthly", ReportPeriod: "MONTHLY", Active: boolPtr(false)},
	} {
		if _, err := svc.Create(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	found, err := svc.Search(ctx, "PLATFORM")
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 2 {
		t.Errorf("Search(PLATFORM) returned %d configurations, expected 2", len(found))
	}

	all, _ := svc.ListAll(ctx)
	if len(all) != 3 {
		t.Errorf("ListAll() returned %d", len(all))
	}

	active, err := svc.ListActive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 2 {
		t.Errorf("ListActive() returned %d, expected 2", len(active))
	}
	if svc.CountActive() != 2 {
		t.Errorf("CountActive() = %d", svc.CountActive())
	}

	page, err := svc.List(ctx, &ReportConfigListRequest{PageSize: 1, Filter: "daily"})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 || len(page.Items) != 1 || page.Items[0].Name != "Mobile daily" {
		t.Errorf("List() = %+v", page)
	}
}

func TestReportConfigService_MarkFired(t *testing.T) {
	db := newTestDB(t)
	svc := NewReportConfigService(db)
	ctx := context.Background()

	c, err := svc.Create(ctx, &ReportMailConfigurationDTO{Name: "daily", ReportPeriod: "DAILY"})
	if err != nil {
		t.Fatal(err)
	}

	berlin := time.FixedZone("CEST", 2*60*60)
	first := time.Date(2026, 10, 14, 9, 1, 0, 123456789, berlin)
	if err := svc.MarkFired(ctx, c.ID, nil, first); err != nil {
		t.Fatalf("first MarkFired() error = %v", err)
	}

	// a second commit based on the same stale snapshot loses
	if err := svc.MarkFired(ctx, c.ID, nil, first.Add(time.Minute)); !errors.Is(err, ErrFireConflict) {
		t.Errorf("stale MarkFired() error = %v, expected ErrFireConflict", err)
	}

	reloaded, err := svc.Get(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.LastFiredAt == nil || !reloaded.LastFiredAt.Equal(first.Truncate(time.Millisecond)) {
		t.Fatalf("LastFiredAt = %v", reloaded.LastFiredAt)
	}

	next := first.Add(24 * time.Hour)
	if err := svc.MarkFired(ctx, c.ID, reloaded.LastFiredAt, next); err != nil {
		t.Errorf("MarkFired() with fresh snapshot error = %v", err)
	}

	if err := svc.Delete(ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	if err := svc.MarkFired(ctx, c.ID, nil, next); !errors.Is(err, ErrFireConflict) {
		t.Errorf("MarkFired() on deleted configuration error = %v", err)
	}
}
