package reminder

import (
	"fmt"
	"strings"
	"time"
)

const icsTimeLayout = "20060102T150405Z"

// BuildCalendar renders one reminder as an RFC 5545 calendar with a single
// event and a display alarm fifteen minutes before the due time. The UID is
// derived from the reminder id so repeated exports stay stable.
func BuildCalendar(record Reminder) string {
	due := time.Unix(record.DueAtSeconds, 0).UTC()
	stamp := time.Unix(record.CreatedAtSeconds, 0).UTC()
	title := record.Type.Title()

	var b strings.Builder
	writeLine := func(line string) {
		b.WriteString(line)
		b.WriteString("\r\n")
	}

	writeLine("BEGIN:VCALENDAR")
	writeLine("VERSION:2.0")
	writeLine("PRODID:-//Compass//Reminders//EN")
	writeLine("CALSCALE:GREGORIAN")
	writeLine("METHOD:PUBLISH")
	writeLine("BEGIN:VEVENT")
	writeLine(fmt.Sprintf("UID:reminder-%s@compass", record.ID))
	writeLine("DTSTAMP:" + stamp.Format(icsTimeLayout))
	writeLine("DTSTART:" + due.Format(icsTimeLayout))
	writeLine("SUMMARY:" + escapeText(title))
	writeLine(fmt.Sprintf("DESCRIPTION:%s reminder for your coaching conversation.", escapeText(string(record.Type))))
	writeLine("BEGIN:VALARM")
	writeLine("TRIGGER:-PT15M")
	writeLine("ACTION:DISPLAY")
	writeLine("DESCRIPTION:" + escapeText(title))
	writeLine("END:VALARM")
	writeLine("END:VEVENT")
	writeLine("END:VCALENDAR")
	return b.String()
}

// escapeText applies the TEXT escaping rules from RFC 5545 section 3.3.11.
func escapeText(value string) string {
	replacer := strings.NewReplacer(
		"\\", "\\\\",
		";", "\\;",
		",", "\\,",
		"\n", "\\n",
	)
	return replacer.Replace(value)
}
