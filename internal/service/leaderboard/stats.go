package leaderboard

import (
	"context"
	"fmt"

	"github.com/devhub-community/reputation-engine/internal/models"
	"github.com/devhub-community/reputation-engine/internal/reputation"
	"github.com/devhub-community/reputation-engine/internal/service/milestones"
)

// Standing is a user's current reputation with the milestones granted so far.
type Standing struct {
	UserID           string                       `json:"user_id"`
	Points           int64                        `json:"points"`
	Rank             models.Rank                  `json:"rank"`
	NextRank         models.Rank                  `json:"next_rank,omitempty"`
	PointsToNextRank int64                        `json:"points_to_next_rank,omitempty"`
	Streak           int                          `json:"streak"`
	LastActivityDate string                       `json:"last_activity_date,omitempty"`
	Milestones       []milestones.EarnedMilestone `json:"milestones"`
}

// Standing returns the reputation of a user. It returns reputation.ErrUserNotFound
// when the user has no reputation row.
func (s *Service) Standing(ctx context.Context, userID string) (*Standing, error) {
	rep, err := s.reps.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get reputation: %w", err)
	}
	if rep == nil {
		return nil, fmt.Errorf("%w: %s", reputation.ErrUserNotFound, userID)
	}

	earned, err := s.milestones.UserMilestones(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get milestones: %w", err)
	}

	st := &Standing{
		UserID:     rep.UserID,
		Points:     rep.Points,
		Rank:       rep.Rank,
		Streak:     rep.Streak,
		Milestones: earned,
	}
	if rep.LastActivityDate != nil {
		st.LastActivityDate = rep.LastActivityDate.Format("2006-01-02")
	}
	if idx := reputation.RankIndex(rep.Rank); idx >= 0 && idx+1 < len(reputation.RankTiers) {
		next := reputation.RankTiers[idx+1]
		st.NextRank = next.Rank
		st.PointsToNextRank = next.Min - rep.Points
	}

	return st, nil
}

// Activities returns a user's activity history, newest first. beforeID pages
// backwards from an earlier result; zero starts at the latest entry.
func (s *Service) Activities(ctx context.Context, userID string, beforeID int64, limit int) ([]models.Activity, error) {
	rep, err := s.reps.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get reputation: %w", err)
	}
	if rep == nil {
		return nil, fmt.Errorf("%w: %s", reputation.ErrUserNotFound, userID)
	}

	activities, err := s.reps.ListActivities(ctx, userID, beforeID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	return activities, nil
}
