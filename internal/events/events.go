// Package events defines the transient domain events pushed to live connections.
package events

import (
	"time"

	"github.com/devhub-community/reputation-engine/internal/models"
)

// Event names, also used as the SSE event field.
const (
	NameScoreChanged    = "score_changed"
	NameMilestoneEarned = "milestone_earned"
	NameStreakReminder  = "streak_reminder"
)

// Event is a domain event addressed to a single user.
type Event interface {
	EventName() string
	Recipient() string
}

// ScoreChanged reports the final balance after an award.
type ScoreChanged struct {
	UserID     string      `json:"user_id"`
	NewTotal   int64       `json:"new_total"`
	NewRank    models.Rank `json:"new_rank"`
	Delta      int64       `json:"delta"`
	ActionType string      `json:"action_type"`
	Streak     int         `json:"streak,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// EventName implements Event.
func (ScoreChanged) EventName() string { return NameScoreChanged }

// Recipient implements Event.
func (e ScoreChanged) Recipient() string { return e.UserID }

// MilestoneEarned reports a newly granted badge or trophy.
type MilestoneEarned struct {
	UserID       string               `json:"user_id"`
	MilestoneID  string               `json:"milestone_id"`
	Kind         models.MilestoneKind `json:"kind"`
	Title        string               `json:"title"`
	Icon         string               `json:"icon,omitempty"`
	RewardPoints int64                `json:"reward_points"`
	GrantedAt    time.Time            `json:"granted_at"`
}

// EventName implements Event.
func (MilestoneEarned) EventName() string { return NameMilestoneEarned }

// Recipient implements Event.
func (e MilestoneEarned) Recipient() string { return e.UserID }

// StreakReminder warns a user that their streak ends at midnight.
type StreakReminder struct {
	UserID string `json:"user_id"`
	Streak int    `json:"streak"`
	// NextBonus is what continuing the streak today would pay.
	NextBonus int64     `json:"next_bonus"`
	SentAt    time.Time `json:"sent_at"`
}

// EventName implements Event.
func (StreakReminder) EventName() string { return NameStreakReminder }

// Recipient implements Event.
func (e StreakReminder) Recipient() string { return e.UserID }
