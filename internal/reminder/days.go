package reminder

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// weekOrder is the canonical weekly order (Monday first).
var weekOrder = [...]time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
	time.Friday, time.Saturday, time.Sunday,
}

var dayTokens = map[time.Weekday]string{
	time.Monday:    "mon",
	time.Tuesday:   "tue",
	time.Wednesday: "wed",
	time.Thursday:  "thu",
	time.Friday:    "fri",
	time.Saturday:  "sat",
	time.Sunday:    "sun",
}

// dayAliases maps every accepted spelling (lower case) to a weekday:
// English full/short, Russian full/short, Indonesian full/short.
var dayAliases = map[string]time.Weekday{
	"monday": time.Monday, "mon": time.Monday, "mo": time.Monday,
	"понедельник": time.Monday, "пн": time.Monday,
	"senin": time.Monday, "sen": time.Monday,

	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday, "tu": time.Tuesday,
	"вторник": time.Tuesday, "вт": time.Tuesday,
	"selasa": time.Tuesday, "sel": time.Tuesday,

	"wednesday": time.Wednesday, "wed": time.Wednesday, "we": time.Wednesday,
	"среда": time.Wednesday, "ср": time.Wednesday,
	"rabu": time.Wednesday, "rab": time.Wednesday,

	"thursday": time.Thursday, "thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday, "th": time.Thursday,
	"четверг": time.Thursday, "чт": time.Thursday,
	"kamis": time.Thursday, "kam": time.Thursday,

	"friday": time.Friday, "fri": time.Friday, "fr": time.Friday,
	"пятница": time.Friday, "пт": time.Friday,
	"jumat": time.Friday, "jum'at": time.Friday, "jum": time.Friday,

	"saturday": time.Saturday, "sat": time.Saturday, "sa": time.Saturday,
	"суббота": time.Saturday, "сб": time.Saturday,
	"sabtu": time.Saturday, "sab": time.Saturday,

	"sunday": time.Sunday, "sun": time.Sunday, "su": time.Sunday,
	"воскресенье": time.Sunday, "вс": time.Sunday,
	"minggu": time.Sunday, "min": time.Sunday,
}

// NormalizeDays parses a comma (or whitespace) separated list of weekday
// tokens. Unknown tokens are dropped. The result is deduplicated and in
// Monday-first order; it may be empty.
func NormalizeDays(input string) []time.Weekday {
	fields := strings.FieldsFunc(strings.ToLower(input), func(r rune) bool {
		return r == ',' || r == ';' || unicode.IsSpace(r)
	})
	days := make([]time.Weekday, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSuffix(f, ".")
		if d, ok := dayAliases[f]; ok {
			days = append(days, d)
		}
	}
	return canonicalDays(days)
}

// canonicalDays deduplicates and sorts days Monday first.
func canonicalDays(days []time.Weekday) []time.Weekday {
	seen := [7]bool{}
	for _, d := range days {
		if d >= time.Sunday && d <= time.Saturday {
			seen[d] = true
		}
	}
	out := make([]time.Weekday, 0, 7)
	for _, d := range weekOrder {
		if seen[d] {
			out = append(out, d)
		}
	}
	return out
}

// DayToken returns the canonical storage token of d ("mon".."sun").
func DayToken(d time.Weekday) string { return dayTokens[d] }

// FormatDays renders days as canonical comma-joined tokens, e.g. "mon,wed".
func FormatDays(days []time.Weekday) string {
	parts := make([]string, 0, len(days))
	for _, d := range canonicalDays(days) {
		parts = append(parts, dayTokens[d])
	}
	return strings.Join(parts, ",")
}

// PreviousDay returns the weekday immediately before d (Sunday wraps to Saturday).
func PreviousDay(d time.Weekday) time.Weekday {
	return (d + 6) % 7
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(input string) (hour, minute int, err error) {
	s := strings.TrimSpace(input)
	if strings.Count(s, ":") != 1 {
		return 0, 0, fmt.Errorf("%w: time %q, expected HH:MM", ErrInvalidFormat, input)
	}
	hs, ms, _ := strings.Cut(s, ":")
	hour, err = strconv.Atoi(strings.TrimSpace(hs))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: hour in %q", ErrInvalidFormat, input)
	}
	minute, err = strconv.Atoi(strings.TrimSpace(ms))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: minute in %q", ErrInvalidFormat, input)
	}
	if hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%w: hour %d", ErrOutOfRange, hour)
	}
	if minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: minute %d", ErrOutOfRange, minute)
	}
	return hour, minute, nil
}

// ShiftTimeBackward subtracts offsetMinutes from a time of day. dayShift is -1
// when the result falls on the previous calendar day, 0 otherwise.
func ShiftTimeBackward(hour, minute, offsetMinutes int) (dayShift, h, m int) {
	total := hour*60 + minute - offsetMinutes
	for total < 0 {
		total += 24 * 60
		dayShift--
	}
	return dayShift, total / 60, total % 60
}

var onceLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"02.01.2006 15:04",
}

// ParseOnce parses a one-shot instant in loc. A bare "HH:MM" means the next
// occurrence of that time after now.
func ParseOnce(input string, loc *time.Location, now time.Time) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	s := strings.TrimSpace(input)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty date", ErrInvalidFormat)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range onceLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	if !strings.ContainsAny(s, " T.-") {
		h, m, err := ParseTimeOfDay(s)
		if err != nil {
			return time.Time{}, err
		}
		n := now.In(loc)
		t := time.Date(n.Year(), n.Month(), n.Day(), h, m, 0, 0, loc)
		if !t.After(n) {
			t = t.AddDate(0, 0, 1)
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: date %q, expected YYYY-MM-DD HH:MM or HH:MM", ErrInvalidFormat, input)
}
