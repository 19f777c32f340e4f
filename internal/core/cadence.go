package core

import (
	"time"
)

const (
	FrequencyDaily   CadenceKind = "daily"
	FrequencyWeekly  CadenceKind = "weekly"
	FrequencyMonthly CadenceKind = "monthly"
	FrequencyYearly  CadenceKind = "yearly"
)

type (
	CadenceKind string

	// Cadence is the tagged variant behind a rule's frequency. Each variant
	// carries only the fields that matter for it, so a weekly rule can never
	// drag a stale dayOfMonth around in storage.
	Cadence interface {
		Kind() CadenceKind
		Validate() error
		// DueOn reports whether a rule anchored at base fires on the calendar
		// day of now. Both arguments are expected at day granularity.
		DueOn(base, now time.Time) bool
	}

	Daily struct{}

	Weekly struct {
		DayOfWeek time.Weekday // 0 = Sunday
	}

	Monthly struct {
		DayOfMonth int // 1-31
	}

	Yearly struct{}
)

func (Daily) Kind() CadenceKind   { return FrequencyDaily }
func (Weekly) Kind() CadenceKind  { return FrequencyWeekly }
func (Monthly) Kind() CadenceKind { return FrequencyMonthly }
func (Yearly) Kind() CadenceKind  { return FrequencyYearly }

func (Daily) Validate() error { return nil }

func (c Weekly) Validate() error {
	if c.DayOfWeek < time.Sunday || c.DayOfWeek > time.Saturday {
		return fieldErr("dayOfWeek", ErrInvalidDayOfWeek)
	}
	return nil
}

func (c Monthly) Validate() error {
	if c.DayOfMonth < 1 || c.DayOfMonth > 31 {
		return fieldErr("dayOfMonth", ErrInvalidDayOfMonth)
	}
	return nil
}

func (Yearly) Validate() error { return nil }

// DueOn fires at most once per calendar day: due when the anchor day is
// strictly before today.
func (Daily) DueOn(base, now time.Time) bool {
	return DayOf(base).Before(DayOf(now))
}

// DueOn fires when today is the configured weekday and a full week has
// elapsed since the anchor.
func (c Weekly) DueOn(base, now time.Time) bool {
	if now.Weekday() != c.DayOfWeek {
		return false
	}
	return DayOf(now).Sub(DayOf(base)) >= 7*24*time.Hour
}

// DueOn fires when today is the configured day of the month and the anchor
// sits in a strictly earlier calendar month. No clamping: dayOfMonth 31 never
// fires in a 30-day month, and 29-31 skip February in most years.
func (c Monthly) DueOn(base, now time.Time) bool {
	if now.Day() != c.DayOfMonth {
		return false
	}
	return now.Year() > base.Year() ||
		(now.Year() == base.Year() && now.Month() > base.Month())
}

// DueOn fires when today matches the anchor's day and month in a strictly
// later year. A Feb 29 anchor only fires in leap years (strict-skip).
func (Yearly) DueOn(base, now time.Time) bool {
	return now.Day() == base.Day() &&
		now.Month() == base.Month() &&
		now.Year() > base.Year()
}

// BuildCadence assembles the variant for a stored or submitted frequency.
// dayOfWeek and dayOfMonth are ignored for kinds that do not use them.
func BuildCadence(kind CadenceKind, dayOfWeek, dayOfMonth int) (Cadence, error) {
	switch kind {
	case FrequencyDaily:
		return Daily{}, nil
	case FrequencyWeekly:
		return Weekly{DayOfWeek: time.Weekday(dayOfWeek)}, nil
	case FrequencyMonthly:
		return Monthly{DayOfMonth: dayOfMonth}, nil
	case FrequencyYearly:
		return Yearly{}, nil
	}
	return nil, fieldErr("frequency", ErrInvalidCadence)
}
