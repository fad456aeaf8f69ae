package models

import (
	"time"
)

// MilestoneKind distinguishes badges from trophies. Both are granted at most once.
type MilestoneKind string

// MilestoneKind constants.
const (
	MilestoneKindBadge  MilestoneKind = "badge"
	MilestoneKindTrophy MilestoneKind = "trophy"
)

// Metric names usable in milestone rules.
const (
	MetricQuestionsAsked  = "questions_asked"
	MetricAnswersGiven    = "answers_given"
	MetricAcceptedAnswers = "accepted_answers"
	MetricHelpfulAnswers  = "helpful_answers"
	MetricPostsCreated    = "posts_created"
	MetricLikesReceived   = "likes_received"
	MetricPopularPosts    = "popular_posts"
	MetricCommentsPosted  = "comments_posted"

	// Read from the reputation row rather than counted.
	MetricPoints     = "points"
	MetricStreakDays = "streak_days"

	// MetricRank is the pseudo metric used by rank-based rules.
	MetricRank = "rank"
)

// MilestoneRule is the static definition of a badge or trophy.
type MilestoneRule struct {
	ID          string        `mapstructure:"id" yaml:"id" json:"id"`
	Kind        MilestoneKind `mapstructure:"kind" yaml:"kind" json:"kind"`
	Title       string        `mapstructure:"title" yaml:"title" json:"title"`
	Description string        `mapstructure:"description" yaml:"description" json:"description"`
	Icon        string        `mapstructure:"icon" yaml:"icon" json:"icon"`

	// Metric and Threshold form a count rule: counts[Metric] >= Threshold.
	Metric    string `mapstructure:"metric" yaml:"metric" json:"metric,omitempty"`
	Threshold int64  `mapstructure:"threshold" yaml:"threshold" json:"threshold,omitempty"`

	// Rank is the minimum rank for rules whose Metric is "rank".
	Rank Rank `mapstructure:"rank" yaml:"rank" json:"rank,omitempty"`

	// Expression is a CEL predicate over counts, points, rank and streak.
	// Requires lists the metrics it reads from counts.
	Expression string   `mapstructure:"expression" yaml:"expression" json:"expression,omitempty"`
	Requires   []string `mapstructure:"requires" yaml:"requires" json:"requires,omitempty"`

	RewardPoints int64 `mapstructure:"reward_points" yaml:"reward_points" json:"reward_points"`
}

// MilestoneGrant records that a user earned a milestone. Unique on (user_id, milestone_id).
type MilestoneGrant struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      string    `gorm:"size:64;not null;uniqueIndex:ux_milestone_grants_user_milestone,priority:1" json:"user_id"`
	MilestoneID string    `gorm:"size:100;not null;uniqueIndex:ux_milestone_grants_user_milestone,priority:2;index" json:"milestone_id"`
	GrantedAt   time.Time `gorm:"not null" json:"granted_at"`
}

// TableName specifies the table name for MilestoneGrant model.
func (MilestoneGrant) TableName() string {
	return "milestone_grants"
}
