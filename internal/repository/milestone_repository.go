package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/devhub-community/reputation-engine/internal/models"
)

// MilestoneRepository handles milestone grant persistence.
type MilestoneRepository struct {
	db *DB
}

// NewMilestoneRepository creates a new milestone repository.
func NewMilestoneRepository(db *DB) *MilestoneRepository {
	return &MilestoneRepository{db: db}
}

// GrantedIDs returns the set of milestone IDs already granted to a user.
func (r *MilestoneRepository) GrantedIDs(ctx context.Context, userID string) (map[string]bool, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.MilestoneGrant{}).
		Where("user_id = ?", userID).
		Pluck("milestone_id", &ids).Error
	if err != nil {
		return nil, err
	}

	granted := make(map[string]bool, len(ids))
	for _, id := range ids {
		granted[id] = true
	}
	return granted, nil
}

// GetUserGrants retrieves all grants of a user, oldest first.
func (r *MilestoneRepository) GetUserGrants(ctx context.Context, userID string) ([]models.MilestoneGrant, error) {
	var grants []models.MilestoneGrant
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("granted_at ASC").
		Order("id ASC").
		Find(&grants).Error
	return grants, err
}

// HoldersCount returns the number of users holding each milestone.
func (r *MilestoneRepository) HoldersCount(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		MilestoneID string
		Holders     int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.MilestoneGrant{}).
		Select("milestone_id, COUNT(*) AS holders").
		Group("milestone_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.MilestoneID] = row.Holders
	}
	return counts, nil
}

// GrantWithReward inserts a grant and, when rep is non-nil, writes the reward
// reputation and activity in the same transaction. If the grant already exists
// nothing is written and granted is false.
func (r *MilestoneRepository) GrantWithReward(
	ctx context.Context,
	grant *models.MilestoneGrant,
	rep *models.UserReputation,
	activity *models.Activity,
) (granted bool, err error) {
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "milestone_id"}},
			DoNothing: true,
		}).Create(grant)
		if res.Error != nil {
			return fmt.Errorf("failed to insert grant: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		granted = true

		if rep == nil {
			return nil
		}
		if err := saveReputation(tx, rep); err != nil {
			return err
		}
		if activity != nil {
			if err := tx.Create(activity).Error; err != nil {
				return fmt.Errorf("failed to insert reward activity: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return granted, nil
}
