package utils

import (
	"fmt"
	"time"
)

// CRMDateTimeLayout is the wall-clock format the CRM query language expects.
const CRMDateTimeLayout = "2006-01-02 15:04:05"

// DateLayout is used for day-granularity query parameters.
const DateLayout = "2006-01-02"

// CRMLocation is the CRM's business timezone (Dubai, UTC+4, no DST).
var CRMLocation = time.FixedZone("GST", 4*60*60)

// StartOfUTCDay truncates t to 00:00:00 UTC of the same UTC calendar day.
func StartOfUTCDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// CRMDayStart returns 00:00:00 of t's calendar day in CRM time.
func CRMDayStart(t time.Time) time.Time {
	d := t.In(CRMLocation)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, CRMLocation)
}

// CRMDayEnd returns 23:59:59 of t's calendar day in CRM time.
func CRMDayEnd(t time.Time) time.Time {
	d := t.In(CRMLocation)
	return time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 0, CRMLocation)
}

// FormatCRMDateTime renders t in CRM wall-clock time. With endOfDay the time
// component is forced to 23:59:59, otherwise to 00:00:00.
func FormatCRMDateTime(t time.Time, endOfDay bool) string {
	if endOfDay {
		return CRMDayEnd(t).Format(CRMDateTimeLayout)
	}
	return CRMDayStart(t).Format(CRMDateTimeLayout)
}

// CRMDayBounds returns the begin/end strings covering from's day start through
// to's day end.
func CRMDayBounds(from, to time.Time) (string, string) {
	return FormatCRMDateTime(from, false), FormatCRMDateTime(to, true)
}

// ParseDate parses a YYYY-MM-DD query value as a calendar day in loc.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD: %w", value, err)
	}
	return t, nil
}

// ParseCRMTime accepts the CRM wall-clock layout (interpreted in CRM time) and RFC3339.
func ParseCRMTime(value string) (time.Time, error) {
	if t, err := time.ParseInLocation(CRMDateTimeLayout, value, CRMLocation); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(DateLayout, value, CRMLocation); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognised CRM time %q", value)
}
