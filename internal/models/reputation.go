// Package models defines domain models for the reputation engine.
package models

import (
	"time"
)

// Rank is the coarse tier derived from a point total.
type Rank string

// Rank constants, lowest first.
const (
	RankBeginner     Rank = "Beginner"
	RankIntermediate Rank = "Intermediate"
	RankPro          Rank = "Pro"
	RankExpert       Rank = "Expert"
	RankLegend       Rank = "Legend"
)

// UserReputation is the point balance, rank and login streak of a single user.
type UserReputation struct {
	UserID           string     `gorm:"primaryKey;size:64" json:"user_id"`
	Points           int64      `gorm:"not null;default:0;index" json:"points"`
	Rank             Rank       `gorm:"size:20;not null;default:Beginner" json:"rank"`
	Streak           int        `gorm:"not null;default:0" json:"streak"`
	LastActivityDate *time.Time `gorm:"type:date" json:"last_activity_date,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// TableName specifies the table name for UserReputation model.
func (UserReputation) TableName() string {
	return "user_reputations"
}

// Activity is the write-once audit record of a single score change.
type Activity struct {
	ID         int64     `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	UserID     string    `gorm:"size:64;not null;index:idx_activities_user_created,priority:1" json:"user_id"`
	ActionType string    `gorm:"size:50;not null" json:"action_type"`
	Delta      int64     `gorm:"not null" json:"delta"`
	NewTotal   int64     `gorm:"not null" json:"new_total"`
	NewRank    Rank      `gorm:"size:20;not null" json:"new_rank"`
	CreatedAt  time.Time `gorm:"not null;index:idx_activities_user_created,priority:2" json:"created_at"`
}

// TableName specifies the table name for Activity model.
func (Activity) TableName() string {
	return "reputation_activities"
}
