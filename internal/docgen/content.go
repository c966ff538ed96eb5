package docgen

import "time"

// Content is the structured, format independent input of every renderer.
type Content struct {
	Title       string
	Subtitle    string
	Summary     string
	PeriodStart time.Time
	PeriodEnd   time.Time
	GeneratedAt time.Time
	Sections    []Section
}

// Section groups entries under a heading, one per reporting team.
type Section struct {
	Heading string
	Entries []Entry
}

// Entry is a single progress line of a report.
type Entry struct {
	Title     string
	Body      string
	Author    string
	Task      string
	CreatedAt time.Time
}

// IsEmpty reports whether the content has no entries at all.
func (c *Content) IsEmpty() bool {
	if c == nil {
		return true
	}
	for _, s := range c.Sections {
		if len(s.Entries) > 0 {
			return false
		}
	}
	return true
}

// EntryCount returns the total number of entries over all sections.
func (c *Content) EntryCount() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, s := range c.Sections {
		n += len(s.Entries)
	}
	return n
}

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04"
)

func (c *Content) periodLabel() string {
	if c.PeriodStart.IsZero() && c.PeriodEnd.IsZero() {
		return ""
	}
	return c.PeriodStart.Format(dateTimeLayout) + " - " + c.PeriodEnd.Format(dateTimeLayout)
}

func (c *Content) title() string {
	if c.Title == "" {
		return "Report"
	}
	return c.Title
}
