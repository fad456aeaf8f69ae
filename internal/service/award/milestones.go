package award

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	prommetrics "github.com/devhub-community/reputation-engine/internal/metrics"
	"github.com/devhub-community/reputation-engine/internal/models"
	"github.com/devhub-community/reputation-engine/internal/reputation"
	"github.com/devhub-community/reputation-engine/internal/service/milestones"
)

// evaluateMilestones grants every milestone rep now qualifies for and applies
// reward points. rep is updated in place with the rewards. Failures are logged
// and leave the affected milestones for a later evaluation.
func (s *Service) evaluateMilestones(ctx context.Context, rep *models.UserReputation, at time.Time) []models.MilestoneRule {
	granted, err := s.grants.GrantedIDs(ctx, rep.UserID)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", rep.UserID).Msg("Failed to load granted milestones, skipping evaluation")
		return nil
	}

	snap := s.fetchSnapshot(ctx, rep.UserID, s.rules.RequiredMetrics(granted))

	var earned []models.MilestoneRule
	// Rewards can raise rank and unlock rank-based rules; each pass grants at
	// least one rule, so the number of rules bounds the loop. Count rules do not
	// see rewards, so without rank rules one pass is enough.
	cascade := s.rules.HasRankRules()
	for pass := 0; pass <= len(s.rules.Rules()); pass++ {
		snap.Points = rep.Points
		snap.Rank = rep.Rank
		snap.Streak = rep.Streak

		eligible, skipped := s.rules.Evaluate(snap, granted)
		if pass == 0 {
			for _, sk := range skipped {
				s.log.Debug().
					Err(sk.Reason).
					Str("user_id", rep.UserID).
					Str("milestone_id", sk.RuleID).
					Msg("Milestone skipped")
			}
		}
		if len(eligible) == 0 {
			break
		}

		rewarded := false
		for _, rule := range eligible {
			granted[rule.ID] = true

			ok, reward := s.grant(ctx, rep, rule, at)
			if !ok {
				continue
			}
			earned = append(earned, rule)
			if reward {
				rewarded = true
			}
		}
		if !rewarded || !cascade {
			break
		}
	}

	return earned
}

// grant persists a single grant and its reward. It reports whether this call
// created the grant and whether reward points were applied to rep.
func (s *Service) grant(ctx context.Context, rep *models.UserReputation, rule models.MilestoneRule, at time.Time) (granted, rewarded bool) {
	g := &models.MilestoneGrant{
		UserID:      rep.UserID,
		MilestoneID: rule.ID,
		GrantedAt:   at,
	}

	var next *models.UserReputation
	var activity *models.Activity
	if rule.RewardPoints > 0 {
		entry := reputation.Apply(*rep, rule.RewardPoints, reputation.ActionMilestoneReward, at)
		next = &entry.Reputation
		activity = s.stamp(entry.Activity)
	}

	ok, err := s.grants.GrantWithReward(ctx, g, next, activity)
	if err != nil {
		s.log.Warn().
			Err(err).
			Str("user_id", rep.UserID).
			Str("milestone_id", rule.ID).
			Msg("Failed to grant milestone")
		return false, false
	}
	if !ok {
		prommetrics.RecordMilestoneGrantConflict()
		return false, false
	}

	prommetrics.RecordMilestoneGranted(rule.ID)
	if next != nil {
		*rep = *next
		prommetrics.RecordPointsAwarded(reputation.ActionMilestoneReward, rule.RewardPoints)
	}

	s.log.Info().
		Str("user_id", rep.UserID).
		Str("milestone_id", rule.ID).
		Str("kind", string(rule.Kind)).
		Int64("reward_points", rule.RewardPoints).
		Msg("Milestone granted")

	return true, next != nil
}

// fetchSnapshot counts the required metrics concurrently. A metric that
// fails is recorded in Failed and only blocks the rules that read it.
func (s *Service) fetchSnapshot(ctx context.Context, userID string, metrics []string) milestones.Snapshot {
	snap := milestones.Snapshot{
		Counts: make(map[string]int64, len(metrics)),
		Failed: make(map[string]error),
	}
	if len(metrics) == 0 {
		return snap
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MetricWorkers)

	for _, metric := range metrics {
		g.Go(func() error {
			v, err := s.metrics.Count(gctx, userID, metric)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				snap.Failed[metric] = err
				prommetrics.RecordMetricFetchFailure(metric)
				s.log.Warn().
					Err(err).
					Str("user_id", userID).
					Str("metric", metric).
					Msg("Failed to count metric")
				return nil
			}
			snap.Counts[metric] = v
			return nil
		})
	}
	_ = g.Wait()

	return snap
}
