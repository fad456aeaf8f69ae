// Package reputation holds the pure scoring rules: point ledger, rank table and login streaks.
// Nothing in this package performs I/O.
package reputation

import (
	"math"
	"time"

	"github.com/devhub-community/reputation-engine/internal/models"
)

// RankTier is an inclusive [Min, Max] point interval mapped to a rank.
type RankTier struct {
	Rank models.Rank
	Min  int64
	Max  int64
}

// RankTiers is the rank table, lowest tier first.
var RankTiers = []RankTier{
	{Rank: models.RankBeginner, Min: 0, Max: 499},
	{Rank: models.RankIntermediate, Min: 500, Max: 1999},
	{Rank: models.RankPro, Min: 2000, Max: 4999},
	{Rank: models.RankExpert, Min: 5000, Max: 9999},
	{Rank: models.RankLegend, Min: 10000, Max: math.MaxInt64},
}

// ClassifyRank returns the first tier whose interval contains points.
func ClassifyRank(points int64) models.Rank {
	for _, tier := range RankTiers {
		if tier.Min <= points && points <= tier.Max {
			return tier.Rank
		}
	}
	return models.RankBeginner
}

// RankIndex returns the position of rank in the table, or -1 when unknown.
func RankIndex(rank models.Rank) int {
	for i, tier := range RankTiers {
		if tier.Rank == rank {
			return i
		}
	}
	return -1
}

// RankAtLeast reports whether rank is the same tier as min or above it.
func RankAtLeast(rank, minRank models.Rank) bool {
	idx := RankIndex(minRank)
	return idx >= 0 && RankIndex(rank) >= idx
}

// ValidRank reports whether rank appears in the rank table.
func ValidRank(rank models.Rank) bool {
	return RankIndex(rank) >= 0
}

// Entry is the outcome of applying a delta: the updated reputation and its audit record.
type Entry struct {
	Reputation models.UserReputation
	Activity   models.Activity
}

// Apply adds delta to the current point total, clamping at zero, and reclassifies the rank.
// The activity record is returned without an ID; the caller assigns one before persisting.
func Apply(current models.UserReputation, delta int64, actionType string, at time.Time) Entry {
	next := current
	next.Points = clampAdd(current.Points, delta)
	next.Rank = ClassifyRank(next.Points)

	return Entry{
		Reputation: next,
		Activity: models.Activity{
			UserID:     current.UserID,
			ActionType: actionType,
			Delta:      delta,
			NewTotal:   next.Points,
			NewRank:    next.Rank,
			CreatedAt:  at,
		},
	}
}

func clampAdd(points, delta int64) int64 {
	if delta > 0 && points > math.MaxInt64-delta {
		return math.MaxInt64
	}
	sum := points + delta
	if sum < 0 {
		return 0
	}
	return sum
}
