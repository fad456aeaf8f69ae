package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/devhub-community/reputation-engine/internal/events"
	prommetrics "github.com/devhub-community/reputation-engine/internal/metrics"
	"github.com/devhub-community/reputation-engine/internal/reminder"
	"github.com/devhub-community/reputation-engine/internal/repository"
	"github.com/devhub-community/reputation-engine/internal/reputation"
)

// ReminderReport summarizes one streak reminder run.
type ReminderReport struct {
	AtRisk   int
	Notified int
	Failed   int
}

// RunStreakReminders notifies users whose streak ends today unless they log in.
// Every user at risk gets a live event; a configured backend also sends a message.
func (s *Service) RunStreakReminders(ctx context.Context) ReminderReport {
	start := time.Now()
	defer s.observe(JobStreakReminder, start)

	now := s.now()
	today := reputation.CalendarDay(now, s.location)

	atRisk, err := s.reps.ListStreaksAtRisk(ctx, today)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list streaks at risk")
		prommetrics.RecordSchedulerJobRun(JobStreakReminder, "error")
		return ReminderReport{}
	}

	report := ReminderReport{AtRisk: len(atRisk)}
	evs := make([]events.Event, 0, len(atRisk))

	for _, u := range atRisk {
		rep := u.Reputation
		next := reputation.AdvanceStreak(today, rep.LastActivityDate, rep.Streak)

		evs = append(evs, events.StreakReminder{
			UserID:    rep.UserID,
			Streak:    rep.Streak,
			NextBonus: next.Bonus,
			SentAt:    now,
		})

		// Users without an account row have no address to reach out of band.
		if s.sender == nil || u.Account == nil {
			continue
		}
		if err := s.sender.Send(ctx, toReminder(u, next.Bonus)); err != nil {
			reason := "send_error"
			if errors.Is(err, reminder.ErrNoAddress) {
				reason = "no_address"
			}
			report.Failed++
			prommetrics.RecordReminderFailed(s.sender.Name(), reason)
			s.log.Warn().Err(err).Str("user_id", rep.UserID).Str("backend", s.sender.Name()).Msg("Failed to send streak reminder")
			continue
		}
		report.Notified++
		prommetrics.RecordReminderSent(s.sender.Name())
	}

	s.sink.Dispatch(evs...)
	prommetrics.RecordSchedulerJobRun(JobStreakReminder, "success")

	s.log.Info().
		Int("at_risk", report.AtRisk).
		Int("notified", report.Notified).
		Int("failed", report.Failed).
		Dur("duration", time.Since(start)).
		Msg("Streak reminder job completed")

	return report
}

func toReminder(u repository.StreakAtRisk, nextBonus int64) reminder.Reminder {
	return reminder.Reminder{
		UserID:    u.Reputation.UserID,
		Username:  u.Account.Username,
		Email:     u.Account.Email,
		Streak:    u.Reputation.Streak,
		NextBonus: nextBonus,
	}
}

// SweepReport summarizes one milestone sweep.
type SweepReport struct {
	Users   int
	Granted int
	Failed  int
}

// RunMilestoneSweep re-evaluates milestones for every user, picking up grants
// that earlier evaluations skipped.
func (s *Service) RunMilestoneSweep(ctx context.Context) SweepReport {
	start := time.Now()
	defer s.observe(JobMilestoneSweep, start)

	s.log.Info().Msg("Running milestone sweep job")

	var report SweepReport
	after := ""
	for {
		ids, err := s.reps.ListUserIDs(ctx, after, sweepBatchSize)
		if err != nil {
			s.log.Error().Err(err).Str("after", after).Msg("Failed to list users for milestone sweep")
			prommetrics.RecordSchedulerJobRun(JobMilestoneSweep, "error")
			return report
		}

		for _, id := range ids {
			if ctx.Err() != nil {
				prommetrics.RecordSchedulerJobRun(JobMilestoneSweep, "cancelled")
				return report
			}

			report.Users++
			earned, err := s.reevaluator.Reevaluate(ctx, id)
			if err != nil {
				report.Failed++
				s.log.Warn().Err(err).Str("user_id", id).Msg("Milestone re-evaluation failed")
				continue
			}
			report.Granted += len(earned)
		}

		if len(ids) < sweepBatchSize {
			break
		}
		after = ids[len(ids)-1]
	}

	if s.holders != nil {
		if err := s.holders.RefreshHolderMetrics(ctx); err != nil {
			s.log.Warn().Err(err).Msg("Failed to refresh milestone holder metrics")
		}
	}

	prommetrics.RecordSchedulerJobRun(JobMilestoneSweep, "success")
	s.log.Info().
		Int("users", report.Users).
		Int("granted", report.Granted).
		Int("failed", report.Failed).
		Dur("duration", time.Since(start)).
		Msg("Milestone sweep job completed")

	return report
}

func (s *Service) observe(job string, start time.Time) {
	prommetrics.ObserveSchedulerJobDuration(job, time.Since(start).Seconds())
	prommetrics.SetSchedulerLastRun(job)
}
