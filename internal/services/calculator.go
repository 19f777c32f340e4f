package services

import (
	"time"

	"scadenze/internal/core"
)

// IsDue is the occurrence calculator: it decides, without side effects,
// whether a rule should materialize on the calendar day of now. It can be
// called any number of times; only a successful materialization changes the
// answer, by advancing the rule's marker.
//
// The anchor is the last materialization rather than a fixed offset from the
// start date, so a rule that was paused or missed a sweep self-corrects to at
// most one occurrence per period instead of replaying a backlog.
func IsDue(r core.Rule, now time.Time) bool {
	if !r.Active {
		return false
	}
	if r.Cadence == nil {
		return false
	}

	today := core.DayOf(now)
	if today.Before(core.DayOf(r.StartDate.Time)) {
		return false
	}
	if !r.EndDate.IsZero() && today.After(core.DayOf(r.EndDate.Time)) {
		return false
	}

	return r.Cadence.DueOn(r.Baseline(), today)
}
