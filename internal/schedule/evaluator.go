package schedule

import "time"

// Evaluator decides whether a rule is due. All calendar arithmetic happens in the
// evaluator's location so the same inputs always give the same answer.
type Evaluator struct {
	loc *time.Location
}

// NewEvaluator returns an evaluator working in loc (time.Local when nil).
func NewEvaluator(loc *time.Location) *Evaluator {
	if loc == nil {
		loc = time.Local
	}
	return &Evaluator{loc: loc}
}

// Location returns the evaluator's time zone.
func (e *Evaluator) Location() *time.Location {
	return e.loc
}

// IsDue evaluates rule in now's own location.
func IsDue(rule Rule, lastFiredAt *time.Time, now time.Time) bool {
	return NewEvaluator(now.Location()).IsDue(rule, lastFiredAt, now)
}

// IsDue reports whether rule should fire at now given the instant it last fired.
//
// A rule is due on a fire day once the configured time of day has passed, unless it
// already fired in the same day (DAILY, WEEKLY) or month (MONTHLY). A last fired
// instant after now (clock rollback) is never due.
func (e *Evaluator) IsDue(rule Rule, lastFiredAt *time.Time, now time.Time) bool {
	now = now.In(e.loc)
	if lastFiredAt != nil && now.Before(*lastFiredAt) {
		return false
	}
	if !rule.firesOn(now) || now.Before(e.occurrence(rule, now)) {
		return false
	}
	if lastFiredAt == nil {
		return true
	}

	last := lastFiredAt.In(e.loc)
	if rule.Period == PeriodMonthly {
		return !sameMonth(last, now)
	}
	return !sameDay(last, now)
}

// PeriodStart returns the start of the period now belongs to: midnight of the most
// recent fire day for DAILY and WEEKLY, the first of the month for MONTHLY.
func (e *Evaluator) PeriodStart(rule Rule, now time.Time) time.Time {
	now = now.In(e.loc)
	day := startOfDay(now)
	switch rule.Period {
	case PeriodWeekly:
		if rule.Weekday == nil {
			return day
		}
		back := (int(now.Weekday()) - int(*rule.Weekday) + 7) % 7
		return day.AddDate(0, 0, -back)
	case PeriodMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, e.loc)
	}
	return day
}

// Window returns the content window [from, to) a report fired at now should cover:
// one period back from now, or from the last fired instant when that is more recent.
func (e *Evaluator) Window(rule Rule, lastFiredAt *time.Time, now time.Time) (time.Time, time.Time) {
	now = now.In(e.loc)
	var from time.Time
	switch rule.Period {
	case PeriodWeekly:
		from = now.AddDate(0, 0, -7)
	case PeriodMonthly:
		from = now.AddDate(0, -1, 0)
	default:
		from = now.AddDate(0, 0, -1)
	}
	if lastFiredAt != nil && lastFiredAt.After(from) && lastFiredAt.Before(now) {
		from = lastFiredAt.In(e.loc)
	}
	return from, now
}

// Next returns the first fire instant strictly after t.
func (e *Evaluator) Next(rule Rule, after time.Time) (time.Time, bool) {
	if rule.Validate() != nil {
		return time.Time{}, false
	}
	after = after.In(e.loc)
	day := startOfDay(after)
	// 400 days covers every monthly rule including clamped days
	for i := 0; i < 400; i++ {
		d := day.AddDate(0, 0, i)
		if !rule.firesOn(d) {
			continue
		}
		if at := e.occurrence(rule, d); at.After(after) {
			return at, true
		}
	}
	return time.Time{}, false
}

func (e *Evaluator) occurrence(rule Rule, day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), rule.Hour, rule.Minute, 0, 0, e.loc)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

func sameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}
