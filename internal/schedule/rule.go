package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Period is the recurrence unit of a report schedule.
type Period string

const (
	PeriodDaily   Period = "DAILY"
	PeriodWeekly  Period = "WEEKLY"
	PeriodMonthly Period = "MONTHLY"
)

// ValidPeriods contains all supported periods.
var ValidPeriods = []Period{PeriodDaily, PeriodWeekly, PeriodMonthly}

// IsValid reports whether p is one of the supported periods.
func (p Period) IsValid() bool {
	for _, valid := range ValidPeriods {
		if p == valid {
			return true
		}
	}
	return false
}

var (
	ErrInvalidPeriod     = errors.New("invalid report period")
	ErrWeekdayRequired   = errors.New("weekly report requires a weekday")
	ErrInvalidWeekday    = errors.New("invalid weekday")
	ErrInvalidHour       = errors.New("report hour must be between 0 and 23")
	ErrInvalidMinute     = errors.New("report minute must be between 0 and 59")
	ErrInvalidDayOfMonth = errors.New("report day of month must be between 1 and 31, or 0 for the first")
)

var weekdayNames = map[time.Weekday]string{
	time.Monday:    "MONDAY",
	time.Tuesday:   "TUESDAY",
	time.Wednesday: "WEDNESDAY",
	time.Thursday:  "THURSDAY",
	time.Friday:    "FRIDAY",
	time.Saturday:  "SATURDAY",
	time.Sunday:    "SUNDAY",
}

// ParsePeriod parses a period name case-insensitively.
func ParsePeriod(s string) (Period, error) {
	p := Period(strings.ToUpper(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	return p, nil
}

// ParseWeekday accepts MONDAY, Monday, monday and the three letter forms.
func ParseWeekday(s string) (time.Weekday, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for d, full := range weekdayNames {
		if name == full || (len(name) == 3 && strings.HasPrefix(full, name)) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidWeekday, s)
}

// WeekdayName returns the upper case name used at the API boundary.
func WeekdayName(d time.Weekday) string {
	return weekdayNames[d]
}

// Rule describes when a report fires.
type Rule struct {
	Period Period
	// Weekday is only meaningful for PeriodWeekly.
	Weekday    *time.Weekday
	Hour       int
	Minute     int
	DayOfMonth int // PeriodMonthly only, 0 means the first day
}

// Validate checks the rule at write time. A rule that passes validation can always
// be evaluated.
func (r Rule) Validate() error {
	if !r.Period.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidPeriod, string(r.Period))
	}
	if r.Period == PeriodWeekly {
		if r.Weekday == nil {
			return ErrWeekdayRequired
		}
		if *r.Weekday < time.Sunday || *r.Weekday > time.Saturday {
			return ErrInvalidWeekday
		}
	}
	if r.Hour < 0 || r.Hour > 23 {
		return ErrInvalidHour
	}
	if r.Minute < 0 || r.Minute > 59 {
		return ErrInvalidMinute
	}
	if r.Period == PeriodMonthly && (r.DayOfMonth < 0 || r.DayOfMonth > 31) {
		return ErrInvalidDayOfMonth
	}
	return nil
}

// String renders the rule for logs and listings.
func (r Rule) String() string {
	at := fmt.Sprintf("%02d:%02d", r.Hour, r.Minute)
	switch r.Period {
	case PeriodWeekly:
		if r.Weekday == nil {
			return "WEEKLY at " + at
		}
		return fmt.Sprintf("WEEKLY on %s at %s", WeekdayName(*r.Weekday), at)
	case PeriodMonthly:
		return fmt.Sprintf("MONTHLY on day %d at %s", r.dayOfMonth(), at)
	case PeriodDaily:
		return "DAILY at " + at
	}
	return string(r.Period)
}

func (r Rule) dayOfMonth() int {
	if r.DayOfMonth <= 0 {
		return 1
	}
	return r.DayOfMonth
}

// fireDay returns the day of the month the rule fires in t's month. Days past the
// end of a short month are clamped to its last day.
func (r Rule) fireDay(t time.Time) int {
	day := r.dayOfMonth()
	if last := daysIn(t.Year(), t.Month(), t.Location()); day > last {
		return last
	}
	return day
}

// firesOn reports whether the rule fires on the calendar day of t.
func (r Rule) firesOn(t time.Time) bool {
	switch r.Period {
	case PeriodDaily:
		return true
	case PeriodWeekly:
		return r.Weekday != nil && t.Weekday() == *r.Weekday
	case PeriodMonthly:
		return t.Day() == r.fireDay(t)
	}
	return false
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
