// Package scheduler runs the streak reminder and milestone sweep jobs.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/devhub-community/reputation-engine/internal/config"
	"github.com/devhub-community/reputation-engine/internal/events"
	"github.com/devhub-community/reputation-engine/internal/models"
	"github.com/devhub-community/reputation-engine/internal/reminder"
	"github.com/devhub-community/reputation-engine/internal/repository"
	"github.com/devhub-community/reputation-engine/pkg/logger"
)

// Job names, used as metric labels.
const (
	JobStreakReminder = "streak_reminder"
	JobMilestoneSweep = "milestone_sweep"
)

const sweepBatchSize = 200

// ReputationRepository interface for the reads the jobs need.
type ReputationRepository interface {
	ListStreaksAtRisk(ctx context.Context, today time.Time) ([]repository.StreakAtRisk, error)
	ListUserIDs(ctx context.Context, afterID string, limit int) ([]string, error)
}

// Reevaluator re-runs milestone evaluation for one user.
type Reevaluator interface {
	Reevaluate(ctx context.Context, userID string) ([]models.MilestoneRule, error)
}

// HolderRefresher refreshes the milestone holders gauge.
type HolderRefresher interface {
	RefreshHolderMetrics(ctx context.Context) error
}

// EventSink receives streak reminder events.
type EventSink interface {
	Dispatch(evs ...events.Event)
}

// Service handles background job scheduling.
type Service struct {
	config      *config.SchedulerConfig
	reps        ReputationRepository
	reevaluator Reevaluator
	holders     HolderRefresher
	sink        EventSink
	sender      reminder.Sender
	location    *time.Location
	now         func() time.Time
	log         *logger.Logger
	cron        *cron.Cron
}

// NewService creates a new scheduler service. location defines the calendar
// day used for streaks; sender may be nil when no reminder backend is configured.
func NewService(
	cfg *config.SchedulerConfig,
	reps ReputationRepository,
	reevaluator Reevaluator,
	holders HolderRefresher,
	sink EventSink,
	sender reminder.Sender,
	location *time.Location,
	log *logger.Logger,
) *Service {
	if location == nil {
		location = time.UTC
	}
	return &Service{
		config:      cfg,
		reps:        reps,
		reevaluator: reevaluator,
		holders:     holders,
		sink:        sink,
		sender:      sender,
		location:    location,
		now:         time.Now,
		log:         log,
	}
}

// Start initializes and starts the cron scheduler.
func (s *Service) Start() error {
	if !s.config.Enabled {
		s.log.Info().Msg("Scheduler is disabled in configuration")
		return nil
	}

	location, err := s.config.GetLocation()
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", s.config.Timezone, err)
	}

	s.cron = cron.New(cron.WithLocation(location))

	reminderExpr, err := buildCronExpression(s.config.StreakReminderTime)
	if err != nil {
		return fmt.Errorf("failed to build cron expression: %w", err)
	}

	_, err = s.cron.AddFunc(reminderExpr, func() {
		s.RunStreakReminders(context.Background())
	})
	if err != nil {
		return fmt.Errorf("failed to register streak reminder job: %w", err)
	}

	if s.config.MilestoneSweep != "" {
		_, err = s.cron.AddFunc(s.config.MilestoneSweep, func() {
			s.RunMilestoneSweep(context.Background())
		})
		if err != nil {
			return fmt.Errorf("failed to register milestone sweep job: %w", err)
		}
		s.log.Info().
			Str("schedule", s.config.MilestoneSweep).
			Msg("Milestone sweep job registered")
	}

	s.cron.Start()

	nextRun := ""
	if entries := s.cron.Entries(); len(entries) > 0 {
		nextRun = entries[0].Next.Format(time.RFC3339)
	}

	s.log.Info().
		Str("schedule", reminderExpr).
		Str("timezone", s.config.Timezone).
		Str("time", s.config.StreakReminderTime).
		Str("next_run", nextRun).
		Msg("Scheduler started successfully")

	return nil
}

// Stop gracefully shuts down the scheduler, waiting for running jobs.
func (s *Service) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
		s.log.Info().Msg("Scheduler stopped")
	}
}

// buildCronExpression turns "HH:MM" into a daily cron expression.
func buildCronExpression(at string) (string, error) {
	parts := strings.Split(at, ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid time format %q, expected HH:MM", at)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("invalid hour %q", parts[0])
	}

	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("invalid minute %q", parts[1])
	}

	return fmt.Sprintf("%d %d * * *", minute, hour), nil
}
