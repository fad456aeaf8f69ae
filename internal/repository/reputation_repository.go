package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/devhub-community/reputation-engine/internal/models"
)

// ReputationRepository handles user reputation and activity persistence.
type ReputationRepository struct {
	db *DB
}

// NewReputationRepository creates a new reputation repository.
func NewReputationRepository(db *DB) *ReputationRepository {
	return &ReputationRepository{db: db}
}

// Create inserts a zero reputation row for userID. Creating an existing user is a no-op;
// created reports whether a row was inserted.
func (r *ReputationRepository) Create(ctx context.Context, userID string) (rep *models.UserReputation, created bool, err error) {
	row := &models.UserReputation{
		UserID: userID,
		Rank:   models.RankBeginner,
	}

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(row)
	if res.Error != nil {
		return nil, false, res.Error
	}

	rep, err = r.Get(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return rep, res.RowsAffected > 0, nil
}

// Get retrieves a user's reputation. Returns nil, nil when the user does not exist.
func (r *ReputationRepository) Get(ctx context.Context, userID string) (*models.UserReputation, error) {
	var rep models.UserReputation
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&rep).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rep, nil
}

// ApplyScore writes the new reputation state and its activity records in one transaction.
// Nil activities are skipped.
func (r *ReputationRepository) ApplyScore(ctx context.Context, rep *models.UserReputation, activities ...*models.Activity) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := saveReputation(tx, rep); err != nil {
			return err
		}
		for _, activity := range activities {
			if activity == nil {
				continue
			}
			if err := tx.Create(activity).Error; err != nil {
				return fmt.Errorf("failed to insert activity: %w", err)
			}
		}
		return nil
	})
}

func saveReputation(tx *gorm.DB, rep *models.UserReputation) error {
	res := tx.Model(&models.UserReputation{}).
		Where("user_id = ?", rep.UserID).
		Updates(map[string]interface{}{
			"points":             rep.Points,
			"rank":               rep.Rank,
			"streak":             rep.Streak,
			"last_activity_date": rep.LastActivityDate,
			"updated_at":         time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update reputation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("reputation row for %s vanished", rep.UserID)
	}
	return nil
}

// Delete removes a user's reputation, activity history and milestone grants.
// Returns false when the user had no reputation row.
func (r *ReputationRepository) Delete(ctx context.Context, userID string) (bool, error) {
	var existed bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&models.MilestoneGrant{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userID).Delete(&models.Activity{}).Error; err != nil {
			return err
		}
		res := tx.Where("user_id = ?", userID).Delete(&models.UserReputation{})
		if res.Error != nil {
			return res.Error
		}
		existed = res.RowsAffected > 0
		return nil
	})
	return existed, err
}

// ListActivities returns a user's activity history, newest first.
// A positive beforeID returns only activities older than that ID.
func (r *ReputationRepository) ListActivities(ctx context.Context, userID string, beforeID int64, limit int) ([]models.Activity, error) {
	var activities []models.Activity
	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if beforeID > 0 {
		query = query.Where("id < ?", beforeID)
	}
	err := query.
		Order("id DESC").
		Limit(limit).
		Find(&activities).Error
	return activities, err
}

// Leaderboard returns reputations ordered by points, ties broken by user ID.
func (r *ReputationRepository) Leaderboard(ctx context.Context, limit, offset int) ([]models.UserReputation, error) {
	var reps []models.UserReputation
	err := r.db.WithContext(ctx).
		Order("points DESC").
		Order("user_id ASC").
		Limit(limit).
		Offset(offset).
		Find(&reps).Error
	return reps, err
}

// Count returns the number of users with a reputation row.
func (r *ReputationRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.UserReputation{}).Count(&count).Error
	return count, err
}

// StreakAtRisk pairs a reputation with the account used to contact its owner.
type StreakAtRisk struct {
	Reputation models.UserReputation
	Account    *models.Account
}

// ListStreaksAtRisk returns users with a running streak and no activity on today.
// Users who opted out of reminders are excluded; users without an account row are kept.
func (r *ReputationRepository) ListStreaksAtRisk(ctx context.Context, today time.Time) ([]StreakAtRisk, error) {
	var reps []models.UserReputation
	err := r.db.WithContext(ctx).
		Where("streak > 0 AND last_activity_date < ?", today).
		Order("user_id ASC").
		Find(&reps).Error
	if err != nil {
		return nil, err
	}
	if len(reps) == 0 {
		return nil, nil
	}

	ids := make([]string, len(reps))
	for i := range reps {
		ids[i] = reps[i].UserID
	}

	var accounts []models.Account
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	byID := make(map[string]*models.Account, len(accounts))
	for i := range accounts {
		byID[accounts[i].ID] = &accounts[i]
	}

	result := make([]StreakAtRisk, 0, len(reps))
	for _, rep := range reps {
		account := byID[rep.UserID]
		if account != nil && !account.StreakReminders {
			continue
		}
		result = append(result, StreakAtRisk{Reputation: rep, Account: account})
	}
	return result, nil
}

// ListUserIDs pages through user IDs in ascending order, starting after afterID.
func (r *ReputationRepository) ListUserIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.UserReputation{}).
		Where("user_id > ?", afterID).
		Order("user_id ASC").
		Limit(limit).
		Pluck("user_id", &ids).Error
	return ids, err
}
