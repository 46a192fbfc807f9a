package entitystore

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidTime is returned when a value cannot be coerced into a time.
var ErrInvalidTime = errors.New("value is not a valid time")

// timeLayouts are tried in order, the first match wins.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// zonedLayout is the layout used with a trailing zone abbreviation from zoneOffsets.
const zonedLayout = "2006-01-02 15:04:05"

// zoneOffsets resolves zone abbreviations to fixed offsets in seconds, independent of the host zone.
var zoneOffsets = map[string]int{
	"UTC":  0,
	"GMT":  0,
	"EST":  -5 * 3600,
	"EDT":  -4 * 3600,
	"CST":  -6 * 3600,
	"CDT":  -5 * 3600,
	"MST":  -7 * 3600,
	"MDT":  -6 * 3600,
	"PST":  -8 * 3600,
	"PDT":  -7 * 3600,
	"CET":  1 * 3600,
	"CEST": 2 * 3600,
}

// ParseTime coerces a value into a UTC time.
// Supported are time.Time, strings in the layouts above or followed by a zone abbreviation
// from zoneOffsets, and unix seconds as number or numeric string.
func ParseTime(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC(), nil

	case *time.Time:
		if v == nil {
			return time.Time{}, nil
		}
		return v.UTC(), nil

	case int:
		return time.Unix(int64(v), 0).UTC(), nil

	case int64:
		return time.Unix(v, 0).UTC(), nil

	case float64:
		return time.Unix(0, int64(v*float64(time.Second))).UTC(), nil

	case string:
		return parseTimeString(v)

	case nil:
		return time.Time{}, nil
	}

	return time.Time{}, errors.Join(ErrInvalidTime, fmt.Errorf("unsupported type %T", value))
}

func parseTimeString(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}

	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}

	if t, ok := parseZoned(value); ok {
		return t, nil
	}

	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}

	return time.Time{}, errors.Join(ErrInvalidTime, fmt.Errorf("%q", value))
}

// parseZoned parses "<date> <time> <ABBR>" with the offset of a known abbreviation.
func parseZoned(value string) (time.Time, bool) {
	cut := strings.LastIndexByte(value, ' ')
	if cut < 0 {
		return time.Time{}, false
	}

	abbreviation := strings.ToUpper(value[cut+1:])

	offset, ok := zoneOffsets[abbreviation]
	if !ok {
		return time.Time{}, false
	}

	t, err := time.ParseInLocation(zonedLayout, value[:cut], time.FixedZone(abbreviation, offset))
	if err != nil {
		return time.Time{}, false
	}

	return t.UTC(), true
}

// Timestamp is a time field for events and entities that accepts every format ParseTime knows
// when decoded and always encodes as RFC3339Nano in UTC.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t, normalized to UTC.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

// MarshalJSON encodes the time as RFC3339Nano, the zero time as null.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}

	return []byte(strconv.Quote(t.UTC().Format(time.RFC3339Nano))), nil
}

// UnmarshalJSON decodes strings, numbers and null.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		t.Time = time.Time{}
		return nil
	}

	var value any = raw
	if unquoted, err := strconv.Unquote(raw); err == nil {
		value = unquoted
	} else if f, err := strconv.ParseFloat(raw, 64); err == nil {
		value = f
	}

	parsed, err := ParseTime(value)
	if err != nil {
		return err
	}

	t.Time = parsed

	return nil
}
