// Package dutchdate parses Dutch free-form date strings as venue
// websites print them, e.g. "di 10 feb 2026, 19:30 - 23:00".
package dutchdate

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Dutch month abbreviations -> month. Both "mrt"/"mar" and "okt"/"oct"
// appear in the wild.
var months = map[string]time.Month{
	"jan": time.January,
	"feb": time.February,
	"mrt": time.March,
	"mar": time.March,
	"apr": time.April,
	"mei": time.May,
	"jun": time.June,
	"jul": time.July,
	"aug": time.August,
	"sep": time.September,
	"okt": time.October,
	"oct": time.October,
	"nov": time.November,
	"dec": time.December,
}

// Matches the first "<day> <month name> <year>" triple anywhere in the
// text. An optional leading weekday ("di", "zo") is simply not part of
// the match; times, prices and other trailing text are ignored.
var datePattern = regexp.MustCompile(`(\d{1,2})\s+([a-zA-Z]{3,9})\s+(\d{4})`)

// Normalize extracts the first day/month-name/year triple from raw and
// returns it as a calendar date. The second return value is false when
// no triple is present, the month name is unrecognized, or the triple
// is not a valid calendar date (e.g. 31 feb). It never panics: an
// unparseable string is a reportable condition, not an error.
func Normalize(raw string) (time.Time, bool) {
	m := datePattern.FindStringSubmatch(strings.ToLower(raw))
	if m == nil {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(m[1])
	year, _ := strconv.Atoi(m[3])
	month, ok := months[m[2][:3]]
	if !ok {
		return time.Time{}, false
	}
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes overflow (31 feb -> 3 mar); reject that.
	if d.Day() != day || d.Month() != month || d.Year() != year {
		return time.Time{}, false
	}
	return d, true
}

// NormalizeISO is Normalize with the date formatted as YYYY-MM-DD.
func NormalizeISO(raw string) (string, bool) {
	d, ok := Normalize(raw)
	if !ok {
		return "", false
	}
	return d.Format("2006-01-02"), true
}
