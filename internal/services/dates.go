package services

import (
	"time"

	"gorm.io/datatypes"

	types "github.com/stridelab/coach-backend/internal/domain"
)

// Clock lets tests pin "now". A nil Clock means time.Now.
type Clock func() time.Time

func orNow(c Clock) Clock {
	if c == nil {
		return time.Now
	}
	return c
}

// userLocalTime shifts now into the user's timezone when one is set and
// parseable. Scheduling math (week start, workout date) is done in the
// user's local calendar, not the server's.
func userLocalTime(u *types.User, now time.Time) time.Time {
	if u == nil || u.Timezone == "" {
		return now
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return now
	}
	return now.In(loc)
}

func isoDate(t time.Time) string {
	return t.Format("2006-01-02")
}

// weekBounds returns the Monday and Sunday ISO dates of the week containing t.
func weekBounds(t time.Time) (string, string) {
	wd := int(t.Weekday())
	if wd == 0 {
		wd = 7
	}
	monday := t.AddDate(0, 0, -(wd - 1))
	sunday := monday.AddDate(0, 0, 6)
	return isoDate(monday), isoDate(sunday)
}

// hasContent reports whether a JSON column holds a real value. Empty, null
// and empty-object payloads all mean "generated nothing usable".
func hasContent(b datatypes.JSON) bool {
	s := string(b)
	switch s {
	case "", "null", "{}", "[]":
		return false
	}
	return true
}
