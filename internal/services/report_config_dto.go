package services

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/huangang/taskreport/internal/docgen"
	"github.com/huangang/taskreport/internal/models"
	"github.com/huangang/taskreport/internal/schedule"
)

// ReportMailConfigurationDTO is the flat shape of a report configuration used by
// the admin API. Related teams and users are bare ids.
type ReportMailConfigurationDTO struct {
	ID                  uint   `json:"id"`
	Name                string `json:"name" validate:"required,max=100"`
	MailSenderName      string `json:"mailSenderName" validate:"max=100"`
	MailSubject         string `json:"mailSubject" validate:"max=255"`
	MailText            string `json:"mailText"`
	ReportingTeams      []uint `json:"reportingTeams" validate:"dive,gt=0"`
	MasterRecipients    []uint `json:"masterRecipients" validate:"dive,gt=0"`
	ReportToTeamLeads   bool   `json:"reportToTeamLeads"`
	ReportToTeamMembers bool   `json:"reportToTeamMembers"`
	ReportPeriod        string `json:"reportPeriod" validate:"report_period"`
	ReportWeekDay       string `json:"reportWeekDay" validate:"weekday"`
	ReportHour          int    `json:"reportHour" validate:"min=0,max=23"`
	ReportMinute        int    `json:"reportMinute" validate:"min=0,max=59"`

	ReportDayOfMonth int        `json:"reportDayOfMonth" validate:"min=0,max=31"`
	ReportFormat     string     `json:"reportFormat" validate:"report_format"`
	Active           *bool      `json:"active,omitempty"`
	HolidayCountry   string     `json:"holidayCountry" validate:"holiday_country"`
	LastFiredAt      *time.Time `json:"lastFiredAt,omitempty"`
}

// NewReportMailConfigurationDTO flattens an entity. Unset period and weekday become
// "", unset hour, minute and day of month become 0. Nil id lists stay nil.
// No validation happens here.
func NewReportMailConfigurationDTO(c *models.ReportMailConfiguration) ReportMailConfigurationDTO {
	active := c.Active
	dto := ReportMailConfigurationDTO{
		ID:                  c.ID,
		Name:                c.Name,
		MailSenderName:      c.MailSenderName,
		MailSubject:         c.MailSubject,
		MailText:            c.MailText,
		ReportToTeamLeads:   c.ReportToTeamLeads,
		ReportToTeamMembers: c.ReportToTeamMembers,
		ReportPeriod:        c.ReportPeriod,
		ReportWeekDay:       c.ReportWeekDay,
		ReportFormat:        c.ReportFormat,
		Active:              &active,
		HolidayCountry:      c.HolidayCountry,
		LastFiredAt:         c.LastFiredAt,
	}
	if c.ReportingTeams != nil {
		dto.ReportingTeams = append([]uint{}, c.ReportingTeams...)
	}
	if c.MasterRecipients != nil {
		dto.MasterRecipients = append([]uint{}, c.MasterRecipients...)
	}
	if c.ReportHour != nil {
		dto.ReportHour = *c.ReportHour
	}
	if c.ReportMinute != nil {
		dto.ReportMinute = *c.ReportMinute
	}
	if c.ReportDayOfMonth != nil {
		dto.ReportDayOfMonth = *c.ReportDayOfMonth
	}
	return dto
}

// ApplyTo copies the editable fields onto c. ID and LastFiredAt are owned by the
// store and the scheduler and are left alone. Active is only applied when sent.
func (d *ReportMailConfigurationDTO) ApplyTo(c *models.ReportMailConfiguration) {
	c.Name = d.Name
	c.MailSenderName = d.MailSenderName
	c.MailSubject = d.MailSubject
	c.MailText = d.MailText
	c.ReportingTeams = copyIDs(d.ReportingTeams)
	c.MasterRecipients = copyIDs(d.MasterRecipients)
	c.ReportToTeamLeads = d.ReportToTeamLeads
	c.ReportToTeamMembers = d.ReportToTeamMembers
	c.ReportPeriod = d.ReportPeriod
	c.ReportWeekDay = d.ReportWeekDay
	c.ReportHour = intPtr(d.ReportHour)
	c.ReportMinute = intPtr(d.ReportMinute)
	c.ReportDayOfMonth = intPtr(d.ReportDayOfMonth)
	c.ReportFormat = d.ReportFormat
	c.HolidayCountry = d.HolidayCountry
	if d.Active != nil {
		c.Active = *d.Active
	}
}

// Normalize canonicalizes enum spellings, trims the name and collapses duplicate ids.
// Values that do not parse are left as sent so validation can report them.
func (d *ReportMailConfigurationDTO) Normalize() {
	d.Name = strings.TrimSpace(d.Name)
	if p, err := schedule.ParsePeriod(d.ReportPeriod); err == nil {
		d.ReportPeriod = string(p)
	} else if strings.TrimSpace(d.ReportPeriod) == "" {
		d.ReportPeriod = ""
	}
	if strings.TrimSpace(d.ReportWeekDay) == "" {
		d.ReportWeekDay = ""
	} else if wd, err := schedule.ParseWeekday(d.ReportWeekDay); err == nil {
		d.ReportWeekDay = schedule.WeekdayName(wd)
	}
	// a weekday only means something for weekly reports
	if d.ReportPeriod != "" && d.ReportPeriod != string(schedule.PeriodWeekly) {
		d.ReportWeekDay = ""
	}
	if strings.TrimSpace(d.ReportFormat) == "" {
		d.ReportFormat = ""
	} else if f, err := docgen.ParseFormat(d.ReportFormat); err == nil {
		d.ReportFormat = string(f)
	}
	d.HolidayCountry = strings.ToUpper(strings.TrimSpace(d.HolidayCountry))
	d.ReportingTeams = uniqueIDs(d.ReportingTeams)
	d.MasterRecipients = uniqueIDs(d.MasterRecipients)
}

// Rule builds the schedule rule described by the transfer fields.
func (d *ReportMailConfigurationDTO) Rule() (schedule.Rule, error) {
	var c models.ReportMailConfiguration
	d.ApplyTo(&c)
	return c.Rule()
}

// FieldError is one rejected field of a configuration write.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every problem found while validating a configuration write.
type ValidationError struct {
	Errors []FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	return "invalid report configuration: " + strings.Join(e.Details(), "; ")
}

// Details returns the problems as "field: message" strings.
func (e *ValidationError) Details() []string {
	out := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		out = append(out, fe.Field+": "+fe.Message)
	}
	return out
}

func (e *ValidationError) add(field, msg string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: msg})
}

// Has reports whether field was rejected.
func (e *ValidationError) Has(field string) bool {
	for _, fe := range e.Errors {
		if fe.Field == field {
			return true
		}
	}
	return false
}

func (e *ValidationError) orNil() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("report_period", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" {
			return true
		}
		_, err := schedule.ParsePeriod(s)
		return err == nil
	})
	_ = v.RegisterValidation("weekday", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" {
			return true
		}
		_, err := schedule.ParseWeekday(s)
		return err == nil
	})
	_ = v.RegisterValidation("report_format", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" {
			return true
		}
		_, err := docgen.ParseFormat(s)
		return err == nil
	})
	_ = v.RegisterValidation("holiday_country", func(fl validator.FieldLevel) bool {
		return knownHolidayCountry(fl.Field().String())
	})
	return v
}

func knownHolidayCountry(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || code == CountryChina || code == CountryWeekdays {
		return true
	}
	_, ok := countryHolidays[code]
	return ok
}

// ValidateReportConfig checks the parts of a configuration that need no store access:
// field constraints and the schedule rule. Id existence and name uniqueness are
// checked by the store.
func ValidateReportConfig(d *ReportMailConfigurationDTO) error {
	verr := &ValidationError{}

	if err := validate.Struct(d); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			verr.add(fieldPath(fe), validationMessage(fe))
		}
	}

	if d.ReportPeriod != "" && !verr.Has("reportPeriod") && !verr.Has("reportWeekDay") {
		rule, err := d.Rule()
		if err == nil {
			err = rule.Validate()
		}
		switch {
		case err == nil:
		case errors.Is(err, schedule.ErrWeekdayRequired), errors.Is(err, schedule.ErrInvalidWeekday):
			verr.add("reportWeekDay", err.Error())
		case errors.Is(err, schedule.ErrInvalidHour):
			addOnce(verr, "reportHour", err.Error())
		case errors.Is(err, schedule.ErrInvalidMinute):
			addOnce(verr, "reportMinute", err.Error())
		case errors.Is(err, schedule.ErrInvalidDayOfMonth):
			addOnce(verr, "reportDayOfMonth", err.Error())
		default:
			verr.add("reportPeriod", err.Error())
		}
	}

	return verr.orNil()
}

func addOnce(verr *ValidationError, field, msg string) {
	if !verr.Has(field) {
		verr.add(field, msg)
	}
}

// fieldPath drops the struct name and keeps slice indexes, e.g. "reportingTeams[1]".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "gt":
		return "must be a positive id"
	case "report_period":
		return fmt.Sprintf("must be one of %v", schedule.ValidPeriods)
	case "weekday":
		return "must be a weekday name such as MONDAY"
	case "report_format":
		return fmt.Sprintf("must be one of %v", docgen.Formats())
	case "holiday_country":
		return "unknown holiday country"
	}
	return fmt.Sprintf("failed %q validation", fe.Tag())
}

func intPtr(v int) *int {
	return &v
}

func copyIDs(ids []uint) []uint {
	if ids == nil {
		return nil
	}
	return append([]uint{}, ids...)
}

// uniqueIDs removes duplicates, keeping first-seen order.
func uniqueIDs(ids []uint) []uint {
	if ids == nil {
		return nil
	}
	seen := make(map[uint]bool, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
