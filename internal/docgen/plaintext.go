package docgen

import (
	"fmt"
	"strings"
)

type plainTextRenderer struct{}

func (plainTextRenderer) Format() Format { return FormatPlainText }

func (plainTextRenderer) Render(c *Content) ([]byte, error) {
	var sb strings.Builder

	title := c.title()
	sb.WriteString(title + "\n")
	sb.WriteString(strings.Repeat("=", len([]rune(title))) + "\n")
	if c.Subtitle != "" {
		sb.WriteString(c.Subtitle + "\n")
	}
	if period := c.periodLabel(); period != "" {
		sb.WriteString("Period: " + period + "\n")
	}
	if !c.GeneratedAt.IsZero() {
		sb.WriteString("Generated: " + c.GeneratedAt.Format(dateTimeLayout) + "\n")
	}
	sb.WriteString("\n")

	if c.Summary != "" {
		sb.WriteString("Summary\n-------\n")
		sb.WriteString(strings.TrimSpace(c.Summary) + "\n\n")
	}

	if c.IsEmpty() {
		sb.WriteString("No progress was reported in this period.\n")
		return []byte(sb.String()), nil
	}

	for _, s := range c.Sections {
		sb.WriteString(s.Heading + "\n")
		sb.WriteString(strings.Repeat("-", len([]rune(s.Heading))) + "\n")
		if len(s.Entries) == 0 {
			sb.WriteString("  (no entries)\n\n")
			continue
		}
		for _, e := range s.Entries {
			sb.WriteString(fmt.Sprintf("* %s", e.Title))
			if meta := entryMeta(e); meta != "" {
				sb.WriteString(" [" + meta + "]")
			}
			sb.WriteString("\n")
			for _, line := range strings.Split(strings.TrimSpace(e.Body), "\n") {
				if line = strings.TrimSpace(line); line != "" {
					sb.WriteString("    " + line + "\n")
				}
			}
		}
		sb.WriteString("\n")
	}

	return []byte(sb.String()), nil
}

func entryMeta(e Entry) string {
	var parts []string
	if e.Task != "" {
		parts = append(parts, e.Task)
	}
	if e.Author != "" {
		parts = append(parts, e.Author)
	}
	if !e.CreatedAt.IsZero() {
		parts = append(parts, e.CreatedAt.Format(dateLayout))
	}
	return strings.Join(parts, ", ")
}
