package store

import "time"

// dbTimeLayout is fixed width so that text ordering in SQLite matches
// chronological ordering.
const dbTimeLayout = "2006-01-02T15:04:05.000000000Z"

func dbFormatTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func dbParseTime(value string) (time.Time, error) {
	t, err := time.Parse(dbTimeLayout, value)
	if err == nil {
		return t, nil
	}
	// Rows written by hand or by older tooling may use RFC 3339.
	return time.Parse(time.RFC3339Nano, value)
}
