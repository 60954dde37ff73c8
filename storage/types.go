package storage

import (
	"fmt"
	"strings"
	"time"

	"bds-warehouse/models"
)

// dateLayout is how calendar days are bound as parameters. Both drivers
// accept it for DATE columns and it sorts correctly as SQLite text.
const dateLayout = "2006-01-02"

// timeLayouts are the textual forms a DATE or TIMESTAMP column may come back
// in when the driver does not convert it to time.Time itself.
var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	dateLayout,
}

// DateArg formats a calendar day for binding.
func DateArg(t time.Time) string {
	return models.DateOnly(t).Format(dateLayout)
}

func nullDateArg(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return DateArg(t)
}

func optionalDateArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return DateArg(*t)
}

// nullTime scans DATE and TIMESTAMP columns from either driver.
type nullTime struct {
	Time  time.Time
	Valid bool
}

func (n *nullTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		n.Time, n.Valid = time.Time{}, false
		return nil
	case time.Time:
		n.Time, n.Valid = v, true
		return nil
	case string:
		return n.parse(v)
	case []byte:
		return n.parse(string(v))
	}
	return fmt.Errorf("storage: cannot scan %T into time", src)
}

func (n *nullTime) parse(s string) error {
	// time.Time.String() appends the monotonic clock reading
	if i := strings.Index(s, " m="); i >= 0 {
		s = s[:i]
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			n.Time, n.Valid = t, true
			return nil
		}
	}
	return fmt.Errorf("storage: cannot parse time %q", s)
}

// Date returns the scanned value as a UTC calendar day.
func (n nullTime) Date() time.Time {
	return models.DateOnly(n.Time)
}

// DatePtr returns nil for NULL, else the calendar day.
func (n nullTime) DatePtr() *time.Time {
	if !n.Valid {
		return nil
	}
	d := n.Date()
	return &d
}

// UTC returns the scanned timestamp in UTC.
func (n nullTime) UTC() time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return n.Time.UTC()
}
