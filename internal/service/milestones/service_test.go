package milestones

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	prommetrics "github.com/devhub-community/reputation-engine/internal/metrics"
	"github.com/devhub-community/reputation-engine/internal/models"
	"github.com/devhub-community/reputation-engine/pkg/logger"
)

// mockGrantRepository is an in-memory GrantRepository.
type mockGrantRepository struct {
	grants map[string][]models.MilestoneGrant
	err    error
}

func (m *mockGrantRepository) GetUserGrants(_ context.Context, userID string) ([]models.MilestoneGrant, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.grants[userID], nil
}

func (m *mockGrantRepository) HoldersCount(_ context.Context) (map[string]int64, error) {
	if m.err != nil {
		return nil, m.err
	}
	counts := make(map[string]int64)
	for _, gs := range m.grants {
		for _, g := range gs {
			counts[g.MilestoneID]++
		}
	}
	return counts, nil
}

func newTestService(t *testing.T, repo GrantRepository) *Service {
	t.Helper()
	return NewServiceWithInterfaces(defaultRuleSet(t), repo, logger.New("debug", "text", "stdout"))
}

func TestCatalog(t *testing.T) {
	repo := &mockGrantRepository{grants: map[string][]models.MilestoneGrant{
		"a": {{UserID: "a", MilestoneID: "curious_mind"}},
		"b": {{UserID: "b", MilestoneID: "curious_mind"}, {UserID: "b", MilestoneID: "helper"}},
	}}
	svc := newTestService(t, repo)

	catalog, err := svc.Catalog(context.Background())
	require.NoError(t, err)
	require.Len(t, catalog, len(DefaultRules()))

	holders := make(map[string]int64)
	for _, e := range catalog {
		holders[e.ID] = e.Holders
	}
	assert.Equal(t, int64(2), holders["curious_mind"])
	assert.Equal(t, int64(1), holders["helper"])
	assert.Equal(t, int64(0), holders["mentor"])
}

func TestUserMilestones(t *testing.T) {
	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	repo := &mockGrantRepository{grants: map[string][]models.MilestoneGrant{
		"a": {
			{UserID: "a", MilestoneID: "curious_mind", GrantedAt: at},
			{UserID: "a", MilestoneID: "retired_badge", GrantedAt: at},
		},
	}}
	svc := newTestService(t, repo)

	earned, err := svc.UserMilestones(context.Background(), "a")
	require.NoError(t, err)
	require.Len(t, earned, 2)
	assert.Equal(t, "Curious Mind", earned[0].Title)
	assert.Equal(t, at, earned[0].GrantedAt)
	assert.Equal(t, "retired_badge", earned[1].ID)
	assert.Empty(t, earned[1].Title)
}

func TestServiceErrors(t *testing.T) {
	svc := newTestService(t, &mockGrantRepository{err: errors.New("db down")})

	_, err := svc.Catalog(context.Background())
	assert.Error(t, err)
	_, err = svc.UserMilestones(context.Background(), "a")
	assert.Error(t, err)
	assert.Error(t, svc.RefreshHolderMetrics(context.Background()))
}

func TestRefreshHolderMetrics(t *testing.T) {
	prommetrics.MilestoneHolders.Reset()
	repo := &mockGrantRepository{grants: map[string][]models.MilestoneGrant{
		"a": {{UserID: "a", MilestoneID: "first_post"}},
	}}
	svc := newTestService(t, repo)

	require.NoError(t, svc.RefreshHolderMetrics(context.Background()))
	assert.Equal(t, float64(1), testutil.ToFloat64(prommetrics.MilestoneHolders.WithLabelValues("first_post")))
	assert.Equal(t, float64(0), testutil.ToFloat64(prommetrics.MilestoneHolders.WithLabelValues("mentor")))
}
