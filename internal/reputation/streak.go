package reputation

import (
	"time"
)

// Streak bonus constants.
const (
	StreakBaseBonus   int64 = 10
	StreakPerDayBonus int64 = 2
)

// StreakTransition names the edge taken by the streak state machine.
type StreakTransition string

// StreakTransition values.
const (
	StreakUnchanged StreakTransition = "unchanged"
	StreakStarted   StreakTransition = "started"
	StreakContinued StreakTransition = "continued"
	StreakReset     StreakTransition = "reset"
	StreakSkewed    StreakTransition = "skewed"
)

// StreakResult is the outcome of a login-class trigger.
type StreakResult struct {
	Streak           int
	Bonus            int64
	Transition       StreakTransition
	ActionType       string
	LastActivityDate *time.Time
	Gap              int
}

// Changed reports whether the streak state has to be persisted.
func (r StreakResult) Changed() bool {
	return r.Transition == StreakStarted || r.Transition == StreakContinued || r.Transition == StreakReset
}

// AdvanceStreak runs one transition of the streak state machine. today and lastActivity
// must already be calendar days (see CalendarDay).
//
//	gap == 0          no-op, bonus 0
//	gap == 1          streak+1, bonus 10 + 2*streak
//	gap > 1 or nil    streak = 1, bonus 10
//	gap < 0           treated as gap == 0 and flagged as skewed
func AdvanceStreak(today time.Time, lastActivity *time.Time, streak int) StreakResult {
	if lastActivity == nil {
		day := today
		return StreakResult{
			Streak:           1,
			Bonus:            StreakBaseBonus,
			Transition:       StreakStarted,
			ActionType:       ActionDailyLogin,
			LastActivityDate: &day,
		}
	}

	gap := DayGap(*lastActivity, today)
	switch {
	case gap == 0:
		return StreakResult{Streak: streak, Transition: StreakUnchanged, LastActivityDate: lastActivity}
	case gap < 0:
		return StreakResult{Streak: streak, Transition: StreakSkewed, LastActivityDate: lastActivity, Gap: gap}
	case gap == 1:
		next := streak + 1
		day := today
		return StreakResult{
			Streak:           next,
			Bonus:            StreakBaseBonus + StreakPerDayBonus*int64(next),
			Transition:       StreakContinued,
			ActionType:       ActionDailyStreak,
			LastActivityDate: &day,
			Gap:              gap,
		}
	default:
		day := today
		return StreakResult{
			Streak:           1,
			Bonus:            StreakBaseBonus,
			Transition:       StreakReset,
			ActionType:       ActionDailyLogin,
			LastActivityDate: &day,
			Gap:              gap,
		}
	}
}

// CalendarDay returns the calendar date of t in loc, as midnight UTC.
func CalendarDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// DayGap returns the number of calendar days from one date to another.
func DayGap(from, to time.Time) int {
	f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(t.Sub(f) / (24 * time.Hour))
}
