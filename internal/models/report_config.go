package models

import (
	"strings"
	"time"

	"github.com/huangang/taskreport/internal/docgen"
	"github.com/huangang/taskreport/internal/schedule"
	"gorm.io/gorm"
)

// ReportMailConfiguration is a named, schedulable report definition: what to report
// (ReportingTeams), to whom (recipients) and how often (the schedule fields).
// Related teams and users are referenced by id only.
type ReportMailConfiguration struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"index;size:100;not null" json:"name"`

	MailSenderName string `gorm:"size:100" json:"mail_sender_name"`
	MailSubject    string `gorm:"size:255" json:"mail_subject"`
	MailText       string `gorm:"type:text" json:"mail_text"`

	ReportingTeams      []uint `gorm:"serializer:json;type:text" json:"reporting_teams"`
	MasterRecipients    []uint `gorm:"serializer:json;type:text" json:"master_recipients"`
	ReportToTeamLeads   bool   `json:"report_to_team_leads"`
	ReportToTeamMembers bool   `json:"report_to_team_members"`

	ReportPeriod     string `gorm:"size:20" json:"report_period"`   // DAILY, WEEKLY, MONTHLY
	ReportWeekDay    string `gorm:"size:20" json:"report_week_day"` // MONDAY..SUNDAY, weekly only
	ReportHour       *int   `json:"report_hour"`
	ReportMinute     *int   `json:"report_minute"`
	ReportDayOfMonth *int   `json:"report_day_of_month"` // monthly only

	ReportFormat   string `gorm:"size:20" json:"report_format"`   // PlainText, PDF, XLSX
	HolidayCountry string `gorm:"size:10" json:"holiday_country"` // skip non-workdays of this calendar
	Active         bool   `gorm:"index" json:"active"`

	LastFiredAt *time.Time `json:"last_fired_at"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (ReportMailConfiguration) TableName() string { return "report_mail_configurations" }

// Rule converts the stored schedule fields into an evaluable rule.
func (c *ReportMailConfiguration) Rule() (schedule.Rule, error) {
	rule := schedule.Rule{
		Period:     schedule.Period(strings.ToUpper(strings.TrimSpace(c.ReportPeriod))),
		Hour:       intValue(c.ReportHour),
		Minute:     intValue(c.ReportMinute),
		DayOfMonth: intValue(c.ReportDayOfMonth),
	}
	if c.ReportWeekDay != "" {
		d, err := schedule.ParseWeekday(c.ReportWeekDay)
		if err != nil {
			return rule, err
		}
		rule.Weekday = &d
	}
	return rule, nil
}

// Format returns the configured output format, PDF when unset.
func (c *ReportMailConfiguration) Format() docgen.Format {
	if c.ReportFormat == "" {
		return docgen.FormatPDF
	}
	return docgen.Format(c.ReportFormat)
}

func intValue(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
