package cloudevents

import (
	"time"
)

// TimeFormat is the wire format for event timestamps (RFC3339, as the
// CloudEvents spec requires).
const TimeFormat = time.RFC3339

// TimeFormatNano keeps sub-second precision when an emitter provides it.
const TimeFormatNano = time.RFC3339Nano

// Lenient layouts accepted on inbound events. Partner systems do not
// reliably send timezone offsets or time components.
var parseLayouts = []string{
	TimeFormatNano,
	TimeFormat,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime parses an event timestamp, accepting RFC3339 plus the lenient
// layouts above.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &time.ParseError{
		Layout:  TimeFormat,
		Value:   s,
		Message: "cannot parse as CloudEvents time",
	}
}

// FormatTime renders a timestamp for the wire. Zero times render empty so
// the attribute is omitted rather than sent as the epoch.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeFormat)
}

// Now returns the current UTC time.
func Now() time.Time {
	return time.Now().UTC()
}
