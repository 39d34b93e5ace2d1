package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"tracker/internal/models"
)

// dbTimeLayout has fixed-width fractional seconds so stored UTC timestamps
// sort lexicographically in text columns.
const dbTimeLayout = "2006-01-02T15:04:05.000000000Z"

// nowUTC is the clock used for updated_at columns.
var nowUTC = func() time.Time { return time.Now().UTC() }

// formatDBTime converts t to the text form stored in SQLite.
func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

// parseDBTime parses a timestamp written by formatDBTime.
func parseDBTime(s string) (time.Time, error) {
	t, err := time.Parse(dbTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// nullTimeToString converts an optional time to a nullable text column.
func nullTimeToString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatDBTime(*t), Valid: true}
}

// nullStringToTime parses a nullable text column into an optional time.
func nullStringToTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseDBTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// stringToNull maps "" to SQL NULL.
func stringToNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// pgtype helpers

func pgTextToString(t pgtype.Text) string {
	if !t.Valid {
		return ""
	}
	return t.String
}

func stringToPgText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

func timeToPgTimestamptz(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{Time: time.Now().UTC(), Valid: true}
	}
	return pgtype.Timestamptz{Time: t.UTC(), Valid: true}
}

func timePtrToPgTimestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{Valid: false}
	}
	return pgtype.Timestamptz{Time: t.UTC(), Valid: true}
}

func pgTimestamptzToPtr(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// cloneOrder deep-copies an order so stored state never aliases caller data.
func cloneOrder(o *models.Order) *models.Order {
	if o == nil {
		return nil
	}
	c := *o
	if o.Items != nil {
		c.Items = make([]models.Item, len(o.Items))
		copy(c.Items, o.Items)
	}
	c.Shipment = cloneShipment(o.Shipment)
	return &c
}

func cloneShipment(s *models.Shipment) *models.Shipment {
	if s == nil {
		return nil
	}
	c := *s
	if s.EstimatedDate != nil {
		d := *s.EstimatedDate
		c.EstimatedDate = &d
	}
	c.Events = make([]models.TrackingEvent, len(s.Events))
	copy(c.Events, s.Events)
	return &c
}

func cloneCustomer(c *models.Customer) *models.Customer {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}
