// Package award sequences scoring, streaks and milestone grants for one user at a time.
package award

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devhub-community/reputation-engine/internal/events"
	"github.com/devhub-community/reputation-engine/internal/lock"
	prommetrics "github.com/devhub-community/reputation-engine/internal/metrics"
	"github.com/devhub-community/reputation-engine/internal/models"
	"github.com/devhub-community/reputation-engine/internal/notify"
	"github.com/devhub-community/reputation-engine/internal/repository"
	"github.com/devhub-community/reputation-engine/internal/reputation"
	"github.com/devhub-community/reputation-engine/internal/service/milestones"
	"github.com/devhub-community/reputation-engine/pkg/idgen"
	"github.com/devhub-community/reputation-engine/pkg/logger"
)

// ReputationRepository interface for reputation persistence.
type ReputationRepository interface {
	Create(ctx context.Context, userID string) (*models.UserReputation, bool, error)
	Get(ctx context.Context, userID string) (*models.UserReputation, error)
	ApplyScore(ctx context.Context, rep *models.UserReputation, activities ...*models.Activity) error
	Delete(ctx context.Context, userID string) (bool, error)
}

// GrantRepository interface for milestone grant persistence.
type GrantRepository interface {
	GrantedIDs(ctx context.Context, userID string) (map[string]bool, error)
	GrantWithReward(ctx context.Context, grant *models.MilestoneGrant, rep *models.UserReputation, activity *models.Activity) (bool, error)
}

// MetricSource counts a user's qualifying actions. Implemented by the content collaborators.
type MetricSource interface {
	Count(ctx context.Context, userID, metric string) (int64, error)
}

// EventSink receives domain events after an award completes.
type EventSink interface {
	Dispatch(evs ...events.Event)
}

// IDGenerator issues activity IDs.
type IDGenerator interface {
	Next() int64
}

// Options tunes the service.
type Options struct {
	// Location defines calendar days for streaks. Defaults to UTC.
	Location *time.Location
	// MetricWorkers bounds concurrent metric counts per evaluation.
	MetricWorkers int
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Request is a single scoring trigger.
type Request struct {
	UserID     string    `json:"user_id"`
	Delta      int64     `json:"delta"`
	ActionType string    `json:"action_type"`
	OccurredAt time.Time `json:"occurred_at,omitempty"`
}

// StreakInfo reports the streak outcome of a login-class trigger.
type StreakInfo struct {
	Streak     int                         `json:"streak"`
	Bonus      int64                       `json:"bonus"`
	Transition reputation.StreakTransition `json:"transition"`
}

// Result is returned synchronously to the caller of Award.
type Result struct {
	UserID        string                 `json:"user_id"`
	NewPoints     int64                  `json:"new_points"`
	NewRank       models.Rank            `json:"new_rank"`
	Delta         int64                  `json:"delta"`
	Streak        *StreakInfo            `json:"streak,omitempty"`
	NewMilestones []models.MilestoneRule `json:"new_milestones"`
}

// Service is the award orchestrator.
type Service struct {
	reps    ReputationRepository
	grants  GrantRepository
	metrics MetricSource
	rules   *milestones.RuleSet
	actions *reputation.Actions
	locker  lock.Locker
	ids     IDGenerator
	sink    EventSink
	opts    Options
	log     *logger.Logger
}

// NewService creates a new award service.
func NewService(
	reps *repository.ReputationRepository,
	grants *repository.MilestoneRepository,
	metricSource *repository.ContentMetricsRepository,
	rules *milestones.RuleSet,
	actions *reputation.Actions,
	locker lock.Locker,
	ids *idgen.Generator,
	dispatcher *notify.Dispatcher,
	opts Options,
	log *logger.Logger,
) *Service {
	return NewServiceWithInterfaces(reps, grants, metricSource, rules, actions, locker, ids, dispatcher, opts, log)
}

// NewServiceWithInterfaces creates a new award service with interface dependencies (useful for testing).
func NewServiceWithInterfaces(
	reps ReputationRepository,
	grants GrantRepository,
	metricSource MetricSource,
	rules *milestones.RuleSet,
	actions *reputation.Actions,
	locker lock.Locker,
	ids IDGenerator,
	sink EventSink,
	opts Options,
	log *logger.Logger,
) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.MetricWorkers <= 0 {
		opts.MetricWorkers = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		reps:    reps,
		grants:  grants,
		metrics: metricSource,
		rules:   rules,
		actions: actions,
		locker:  locker,
		ids:     ids,
		sink:    sink,
		opts:    opts,
		log:     log,
	}
}

// Actions returns the accepted action vocabulary.
func (s *Service) Actions() *reputation.Actions {
	return s.actions
}

// AwardAction awards the documented default delta of actionType.
func (s *Service) AwardAction(ctx context.Context, userID, actionType string) (*Result, error) {
	spec, ok := s.actions.Lookup(actionType)
	if !ok {
		prommetrics.RecordAward("unknown", "invalid")
		return nil, fmt.Errorf("%w: %q", reputation.ErrUnknownAction, actionType)
	}
	return s.Award(ctx, Request{UserID: userID, Delta: spec.Delta, ActionType: actionType})
}

// Award applies a scoring trigger. Calls for the same user are serialized; calls
// for different users run in parallel. The score write is all or nothing;
// milestone evaluation after it is best effort.
func (s *Service) Award(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	defer func() {
		prommetrics.ObserveAwardDuration(time.Since(start).Seconds())
	}()

	spec, err := s.actions.Validate(req.UserID, req.ActionType, req.Delta)
	if err != nil {
		label := req.ActionType
		if errors.Is(err, reputation.ErrUnknownAction) {
			label = "unknown"
		}
		prommetrics.RecordAward(label, "invalid")
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, req.UserID)
	if err != nil {
		prommetrics.RecordAward(req.ActionType, "busy")
		return nil, fmt.Errorf("%w: %w", reputation.ErrPersistence, err)
	}
	result, evs, err := s.award(ctx, req, spec)
	unlock()

	if err != nil {
		status := "error"
		switch {
		case errors.Is(err, reputation.ErrUserNotFound):
			status = "not_found"
		case errors.Is(err, reputation.ErrPersistence):
			status = "persistence_error"
		}
		prommetrics.RecordAward(req.ActionType, status)
		return nil, err
	}

	prommetrics.RecordAward(req.ActionType, "success")
	s.sink.Dispatch(evs...)

	return result, nil
}

func (s *Service) award(ctx context.Context, req Request, spec reputation.ActionSpec) (*Result, []events.Event, error) {
	current, err := s.load(ctx, req.UserID)
	if err != nil {
		return nil, nil, err
	}

	occurred := req.OccurredAt
	if occurred.IsZero() {
		occurred = s.opts.Now()
	}
	occurred = occurred.UTC()

	next := *current
	var activities []*models.Activity
	changed := false

	if req.Delta != 0 {
		entry := reputation.Apply(next, req.Delta, req.ActionType, occurred)
		next = entry.Reputation
		activities = append(activities, s.stamp(entry.Activity))
		prommetrics.RecordPointsAwarded(req.ActionType, req.Delta)
		changed = true
	}

	var streak *StreakInfo
	if spec.LoginClass {
		sr := s.advanceStreak(current, occurred)
		streak = &StreakInfo{Streak: sr.Streak, Bonus: sr.Bonus, Transition: sr.Transition}

		if sr.Changed() {
			next.Streak = sr.Streak
			next.LastActivityDate = sr.LastActivityDate
			changed = true
		}
		if sr.Bonus != 0 {
			entry := reputation.Apply(next, sr.Bonus, sr.ActionType, occurred)
			next = entry.Reputation
			activities = append(activities, s.stamp(entry.Activity))
			prommetrics.RecordPointsAwarded(sr.ActionType, sr.Bonus)
		}
	}

	if changed {
		if err := s.reps.ApplyScore(ctx, &next, activities...); err != nil {
			s.log.Error().
				Err(err).
				Str("user_id", req.UserID).
				Str("action_type", req.ActionType).
				Msg("Failed to persist score")
			return nil, nil, fmt.Errorf("%w: %w", reputation.ErrPersistence, err)
		}
	}

	earned := s.evaluateMilestones(ctx, &next, occurred)

	s.log.Debug().
		Str("user_id", req.UserID).
		Str("action_type", req.ActionType).
		Int64("delta", next.Points-current.Points).
		Int64("points", next.Points).
		Str("rank", string(next.Rank)).
		Int("milestones", len(earned)).
		Msg("Award applied")

	result := &Result{
		UserID:        req.UserID,
		NewPoints:     next.Points,
		NewRank:       next.Rank,
		Delta:         next.Points - current.Points,
		Streak:        streak,
		NewMilestones: earned,
	}

	evs := milestoneEvents(req.UserID, earned, occurred)
	evs = append(evs, events.ScoreChanged{
		UserID:     req.UserID,
		NewTotal:   next.Points,
		NewRank:    next.Rank,
		Delta:      result.Delta,
		ActionType: req.ActionType,
		Streak:     next.Streak,
		OccurredAt: occurred,
	})

	return result, evs, nil
}

func (s *Service) load(ctx context.Context, userID string) (*models.UserReputation, error) {
	current, err := s.reps.Get(ctx, userID)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("Failed to load reputation")
		return nil, fmt.Errorf("%w: %w", reputation.ErrPersistence, err)
	}
	if current == nil {
		return nil, fmt.Errorf("%w: %s", reputation.ErrUserNotFound, userID)
	}
	return current, nil
}

func (s *Service) advanceStreak(current *models.UserReputation, occurred time.Time) reputation.StreakResult {
	today := reputation.CalendarDay(occurred, s.opts.Location)
	sr := reputation.AdvanceStreak(today, current.LastActivityDate, current.Streak)
	prommetrics.RecordStreakTransition(string(sr.Transition))

	if sr.Transition == reputation.StreakSkewed {
		prommetrics.RecordStreakClockSkew()
		s.log.Warn().
			Str("user_id", current.UserID).
			Time("last_activity_date", *current.LastActivityDate).
			Time("today", today).
			Int("gap", sr.Gap).
			Msg("Login trigger predates last activity, streak left unchanged")
	}
	return sr
}

func (s *Service) stamp(activity models.Activity) *models.Activity {
	activity.ID = s.ids.Next()
	return &activity
}

func milestoneEvents(userID string, earned []models.MilestoneRule, at time.Time) []events.Event {
	evs := make([]events.Event, 0, len(earned)+1)
	for _, r := range earned {
		evs = append(evs, events.MilestoneEarned{
			UserID:       userID,
			MilestoneID:  r.ID,
			Kind:         r.Kind,
			Title:        r.Title,
			Icon:         r.Icon,
			RewardPoints: r.RewardPoints,
			GrantedAt:    at,
		})
	}
	return evs
}

// Reevaluate re-runs milestone evaluation for a user without a scoring trigger.
// Used by the milestone sweep to pick up grants skipped by earlier failures.
func (s *Service) Reevaluate(ctx context.Context, userID string) ([]models.MilestoneRule, error) {
	unlock, err := s.locker.Lock(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", reputation.ErrPersistence, err)
	}

	current, err := s.load(ctx, userID)
	if err != nil {
		unlock()
		return nil, err
	}

	now := s.opts.Now().UTC()
	next := *current
	earned := s.evaluateMilestones(ctx, &next, now)
	unlock()

	if len(earned) > 0 {
		evs := milestoneEvents(userID, earned, now)
		evs = append(evs, events.ScoreChanged{
			UserID:     userID,
			NewTotal:   next.Points,
			NewRank:    next.Rank,
			Delta:      next.Points - current.Points,
			ActionType: reputation.ActionMilestoneReward,
			Streak:     next.Streak,
			OccurredAt: now,
		})
		s.sink.Dispatch(evs...)
	}
	return earned, nil
}

// CreateAccount creates the reputation row of a new user. Idempotent.
func (s *Service) CreateAccount(ctx context.Context, userID string) (*models.UserReputation, bool, error) {
	if _, err := s.actions.Validate(userID, reputation.ActionDailyLogin, 0); err != nil {
		return nil, false, err
	}

	unlock, err := s.locker.Lock(ctx, userID)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", reputation.ErrPersistence, err)
	}
	defer unlock()

	rep, created, err := s.reps.Create(ctx, userID)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", reputation.ErrPersistence, err)
	}
	if created {
		s.log.Info().Str("user_id", userID).Msg("Reputation account created")
	}
	return rep, created, nil
}

// DeleteAccount removes a user's reputation, activity history and grants.
func (s *Service) DeleteAccount(ctx context.Context, userID string) error {
	unlock, err := s.locker.Lock(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: %w", reputation.ErrPersistence, err)
	}
	defer unlock()

	existed, err := s.reps.Delete(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: %w", reputation.ErrPersistence, err)
	}
	if !existed {
		return fmt.Errorf("%w: %s", reputation.ErrUserNotFound, userID)
	}

	s.log.Info().Str("user_id", userID).Msg("Reputation account deleted")
	return nil
}
