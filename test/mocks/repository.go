package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/devhub-community/reputation-engine/internal/models"
	"github.com/devhub-community/reputation-engine/internal/repository"
)

// MockReputationRepository is an in-memory reputation store for read-side tests.
type MockReputationRepository struct {
	mu          sync.Mutex
	Reputations map[string]*models.UserReputation
	Activities  map[string][]models.Activity
	Accounts    map[string]*models.Account

	// Err, when set, is returned by every read.
	Err error

	LeaderboardCalls int
}

// NewMockReputationRepository creates an empty repository.
func NewMockReputationRepository() *MockReputationRepository {
	return &MockReputationRepository{
		Reputations: make(map[string]*models.UserReputation),
		Activities:  make(map[string][]models.Activity),
		Accounts:    make(map[string]*models.Account),
	}
}

// Add stores a reputation row.
func (m *MockReputationRepository) Add(rep models.UserReputation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := rep
	m.Reputations[rep.UserID] = &r
}

// Get returns nil when the user is unknown.
func (m *MockReputationRepository) Get(_ context.Context, userID string) (*models.UserReputation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	rep, ok := m.Reputations[userID]
	if !ok {
		return nil, nil
	}
	r := *rep
	return &r, nil
}

// Leaderboard orders by points descending, then user ID.
func (m *MockReputationRepository) Leaderboard(_ context.Context, limit, offset int) ([]models.UserReputation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LeaderboardCalls++
	if m.Err != nil {
		return nil, m.Err
	}

	all := m.sorted()
	if offset >= len(all) {
		return []models.UserReputation{}, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// ListActivities returns activities newest first.
func (m *MockReputationRepository) ListActivities(_ context.Context, userID string, beforeID int64, limit int) ([]models.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}

	var out []models.Activity
	for _, a := range m.Activities[userID] {
		if beforeID > 0 && a.ID >= beforeID {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListStreaksAtRisk mirrors the SQL filter of the real repository.
func (m *MockReputationRepository) ListStreaksAtRisk(_ context.Context, today time.Time) ([]repository.StreakAtRisk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}

	var out []repository.StreakAtRisk
	for _, rep := range m.sorted() {
		if rep.Streak <= 0 || rep.LastActivityDate == nil || !rep.LastActivityDate.Before(today) {
			continue
		}
		account := m.Accounts[rep.UserID]
		if account != nil && !account.StreakReminders {
			continue
		}
		out = append(out, repository.StreakAtRisk{Reputation: rep, Account: account})
	}
	return out, nil
}

// ListUserIDs pages through user IDs in ascending order.
func (m *MockReputationRepository) ListUserIDs(_ context.Context, afterID string, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}

	ids := make([]string, 0, len(m.Reputations))
	for id := range m.Reputations {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *MockReputationRepository) sorted() []models.UserReputation {
	all := make([]models.UserReputation, 0, len(m.Reputations))
	for _, r := range m.Reputations {
		all = append(all, *r)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Points != all[j].Points {
			return all[i].Points > all[j].Points
		}
		return all[i].UserID < all[j].UserID
	})
	return all
}
