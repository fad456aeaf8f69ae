// Package leaderboard provides the read side of the engine: ranking, standings and activity history.
package leaderboard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/devhub-community/reputation-engine/internal/models"
	"github.com/devhub-community/reputation-engine/internal/repository"
	"github.com/devhub-community/reputation-engine/internal/service/milestones"
	"github.com/devhub-community/reputation-engine/pkg/logger"
)

// Limits for paged reads.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

const cacheKeyPrefix = "reputation:leaderboard:"

// ReputationRepository interface for reputation reads.
type ReputationRepository interface {
	Get(ctx context.Context, userID string) (*models.UserReputation, error)
	Leaderboard(ctx context.Context, limit, offset int) ([]models.UserReputation, error)
	ListActivities(ctx context.Context, userID string, beforeID int64, limit int) ([]models.Activity, error)
}

// MilestoneReader interface for granted milestones.
type MilestoneReader interface {
	UserMilestones(ctx context.Context, userID string) ([]milestones.EarnedMilestone, error)
}

// Cache interface for the leaderboard cache. A miss returns "" and no error.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Entry represents a single entry in a leaderboard.
type Entry struct {
	Position int         `json:"position"`
	UserID   string      `json:"user_id"`
	Points   int64       `json:"points"`
	Rank     models.Rank `json:"rank"`
	Streak   int         `json:"streak"`
}

// Service handles leaderboard generation and user standings.
type Service struct {
	reps       ReputationRepository
	milestones MilestoneReader
	cache      Cache
	ttl        time.Duration
	log        *logger.Logger
}

// NewService creates a new leaderboard service. cache may be nil.
func NewService(
	reps *repository.ReputationRepository,
	ms *milestones.Service,
	cache Cache,
	ttl time.Duration,
	log *logger.Logger,
) *Service {
	return NewServiceWithInterfaces(reps, ms, cache, ttl, log)
}

// NewServiceWithInterfaces creates a new leaderboard service with interface dependencies (useful for testing).
func NewServiceWithInterfaces(
	reps ReputationRepository,
	ms MilestoneReader,
	cache Cache,
	ttl time.Duration,
	log *logger.Logger,
) *Service {
	return &Service{
		reps:       reps,
		milestones: ms,
		cache:      cache,
		ttl:        ttl,
		log:        log,
	}
}

// Leaderboard returns users ordered by points, ties broken by user ID.
// Pages are cached for the configured TTL; a cache failure falls back to the database.
func (s *Service) Leaderboard(ctx context.Context, limit, offset int) ([]Entry, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}

	key := fmt.Sprintf("%s%d:%d", cacheKeyPrefix, limit, offset)
	if entries, ok := s.fromCache(ctx, key); ok {
		return entries, nil
	}

	reps, err := s.reps.Leaderboard(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get leaderboard: %w", err)
	}

	entries := make([]Entry, 0, len(reps))
	for i, r := range reps {
		entries = append(entries, Entry{
			Position: offset + i + 1,
			UserID:   r.UserID,
			Points:   r.Points,
			Rank:     r.Rank,
			Streak:   r.Streak,
		})
	}

	s.toCache(ctx, key, entries)
	return entries, nil
}

// Invalidate drops the cached first page. Later pages expire with the TTL.
func (s *Service) Invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	key := fmt.Sprintf("%s%d:%d", cacheKeyPrefix, DefaultLimit, 0)
	if err := s.cache.Del(ctx, key); err != nil {
		s.log.Warn().Err(err).Msg("Failed to invalidate leaderboard cache")
	}
}

func (s *Service) fromCache(ctx context.Context, key string) ([]Entry, bool) {
	if s.cache == nil || s.ttl <= 0 {
		return nil, false
	}

	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Leaderboard cache read failed")
		return nil, false
	}
	if raw == "" {
		return nil, false
	}

	var entries []Entry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Discarding malformed leaderboard cache entry")
		return nil, false
	}
	return entries, true
}

func (s *Service) toCache(ctx context.Context, key string, entries []Entry) {
	if s.cache == nil || s.ttl <= 0 {
		return
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, string(data), s.ttl); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Leaderboard cache write failed")
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
