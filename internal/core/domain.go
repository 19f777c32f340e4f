package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Income  Direction = "income"
	Expense Direction = "expense"
)

type (
	// Direction marks a transaction as money coming in or going out.
	Direction string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// Rule is a stored template plus cadence describing a repeating transaction.
	// LastProcessed is the only field the engine itself mutates; a zero value
	// means the rule has never been materialized and cadence math anchors to
	// StartDate instead.
	Rule struct {
		ID            int64
		Owner         string
		Amount        Money
		Description   string
		Direction     Direction
		Category      string
		Cadence       Cadence
		StartDate     Date
		EndDate       Date // zero = open-ended
		Active        bool
		LastProcessed Date // zero = never materialized
	}

	// Transaction is a concrete income/expense record materialized from a rule.
	Transaction struct {
		ID          int64
		Owner       string
		Amount      Money
		Description string
		Date        Date
		Direction   Direction
		Category    string
	}
)

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrEmptyDescription   = errors.New("empty description")
	ErrEmptyCategory      = errors.New("empty category")
	ErrEmptyOwner         = errors.New("empty owner")
	ErrInvalidDirection   = errors.New("direction must be income or expense")
	ErrInvalidStartDate   = errors.New("invalid start date")
	ErrEndBeforeStart     = errors.New("end date before start date")
	ErrMissingCadence     = errors.New("missing cadence")
	ErrInvalidCadence     = errors.New("invalid cadence")
	ErrInvalidDayOfWeek   = errors.New("day of week must be between 0 (Sunday) and 6")
	ErrInvalidDayOfMonth  = errors.New("day of month must be between 1 and 31")
)

// FieldError ties a validation failure to the offending field so API callers
// get field-level detail.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string { return e.Field + ": " + e.Err.Error() }

func (e *FieldError) Unwrap() error { return e.Err }

func fieldErr(field string, err error) error {
	return &FieldError{Field: field, Err: err}
}

// NewDate creates a Date at day granularity in UTC.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DayOf truncates a timestamp to its calendar day. All cadence comparisons
// happen at this granularity; time of day never matters.
func DayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (d Direction) Validate() error {
	switch d {
	case Income, Expense:
		return nil
	}
	return ErrInvalidDirection
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (r Rule) Validate() error {
	if strings.TrimSpace(r.Owner) == "" {
		return fieldErr("owner", ErrEmptyOwner)
	}
	if err := r.Amount.Validate(); err != nil {
		return fieldErr("amount", err)
	}
	if len(strings.TrimSpace(r.Description)) == 0 {
		return fieldErr("description", ErrEmptyDescription)
	}
	if len(r.Description) > 200 {
		return fieldErr("description", errors.New("description too long (max 200 characters)"))
	}
	if err := r.Direction.Validate(); err != nil {
		return fieldErr("direction", err)
	}
	if strings.TrimSpace(r.Category) == "" {
		return fieldErr("category", ErrEmptyCategory)
	}
	if r.Cadence == nil {
		return fieldErr("frequency", ErrMissingCadence)
	}
	if err := r.Cadence.Validate(); err != nil {
		return err
	}
	if r.StartDate.IsZero() {
		return fieldErr("startDate", ErrInvalidStartDate)
	}
	if !r.EndDate.IsZero() && r.EndDate.Before(r.StartDate.Time) {
		return fieldErr("endDate", ErrEndBeforeStart)
	}
	return nil
}

// Baseline returns the anchor date cadence math is computed from: the last
// materialization when there is one, the start date otherwise.
func (r Rule) Baseline() time.Time {
	if !r.LastProcessed.IsZero() {
		return DayOf(r.LastProcessed.Time)
	}
	return DayOf(r.StartDate.Time)
}

// MarshalJSON renders the date as YYYY-MM-DD, or null when zero.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.Format(time.DateOnly) + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		d.Time = time.Time{}
		return nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}
