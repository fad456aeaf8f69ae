package repository

import (
	"context"
	"fmt"

	"github.com/devhub-community/reputation-engine/internal/models"
)

// Content metric defaults.
const (
	DefaultHelpfulAnswerPoints int64 = 30
	DefaultPopularPostLikes    int64 = 50
)

// ContentMetricsRepository counts a user's activity in the content tables.
type ContentMetricsRepository struct {
	db                  *DB
	helpfulAnswerPoints int64
	popularPostLikes    int64
}

// NewContentMetricsRepository creates a new content metrics repository.
func NewContentMetricsRepository(db *DB) *ContentMetricsRepository {
	return &ContentMetricsRepository{
		db:                  db,
		helpfulAnswerPoints: DefaultHelpfulAnswerPoints,
		popularPostLikes:    DefaultPopularPostLikes,
	}
}

// CountedMetrics lists the metrics Count supports.
func CountedMetrics() []string {
	return []string{
		models.MetricQuestionsAsked,
		models.MetricAnswersGiven,
		models.MetricAcceptedAnswers,
		models.MetricHelpfulAnswers,
		models.MetricPostsCreated,
		models.MetricLikesReceived,
		models.MetricPopularPosts,
		models.MetricCommentsPosted,
	}
}

// Count returns the value of a single metric for a user.
func (r *ContentMetricsRepository) Count(ctx context.Context, userID, metric string) (int64, error) {
	db := r.db.WithContext(ctx)
	var count int64
	var err error

	switch metric {
	case models.MetricQuestionsAsked:
		err = db.Model(&models.Question{}).Where("user_id = ?", userID).Count(&count).Error
	case models.MetricAnswersGiven:
		err = db.Model(&models.Answer{}).Where("user_id = ?", userID).Count(&count).Error
	case models.MetricAcceptedAnswers:
		err = db.Model(&models.Answer{}).Where("user_id = ? AND accepted = ?", userID, true).Count(&count).Error
	case models.MetricHelpfulAnswers:
		// Accepted answers that received the maximum acceptance reward.
		err = db.Model(&models.Answer{}).
			Where("user_id = ? AND accepted = ? AND points_awarded >= ?", userID, true, r.helpfulAnswerPoints).
			Count(&count).Error
	case models.MetricPostsCreated:
		err = db.Model(&models.Post{}).Where("author_id = ?", userID).Count(&count).Error
	case models.MetricLikesReceived:
		err = db.Model(&models.Post{}).
			Select("COALESCE(SUM(like_count), 0)").
			Where("author_id = ?", userID).
			Scan(&count).Error
	case models.MetricPopularPosts:
		err = db.Model(&models.Post{}).
			Where("author_id = ? AND like_count >= ?", userID, r.popularPostLikes).
			Count(&count).Error
	case models.MetricCommentsPosted:
		err = db.Model(&models.Comment{}).Where("user_id = ?", userID).Count(&count).Error
	default:
		return 0, fmt.Errorf("unknown metric %q", metric)
	}

	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", metric, err)
	}
	return count, nil
}
