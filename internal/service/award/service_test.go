package award

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devhub-community/reputation-engine/internal/events"
	"github.com/devhub-community/reputation-engine/internal/lock"
	"github.com/devhub-community/reputation-engine/internal/models"
	"github.com/devhub-community/reputation-engine/internal/repository"
	"github.com/devhub-community/reputation-engine/internal/reputation"
	"github.com/devhub-community/reputation-engine/internal/service/milestones"
	"github.com/devhub-community/reputation-engine/pkg/idgen"
	"github.com/devhub-community/reputation-engine/pkg/logger"
)

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *recordingSink) Dispatch(evs ...events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evs...)
}

func (s *recordingSink) named(name string) []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Event
	for _, ev := range s.events {
		if ev.EventName() == name {
			out = append(out, ev)
		}
	}
	return out
}

// failingMetrics fails the configured metrics and delegates the rest.
type failingMetrics struct {
	next   MetricSource
	failOn map[string]bool
}

func (f *failingMetrics) Count(ctx context.Context, userID, metric string) (int64, error) {
	if f.failOn[metric] {
		return 0, fmt.Errorf("count %s: connection reset", metric)
	}
	return f.next.Count(ctx, userID, metric)
}

type testEnv struct {
	db      *repository.DB
	reps    *repository.ReputationRepository
	grants  *repository.MilestoneRepository
	content *repository.ContentMetricsRepository
	sink    *recordingSink
	metrics MetricSource
	rules   *milestones.RuleSet
	svc     *Service
	now     time.Time
}

func setupTestEnv(t *testing.T, mutate ...func(*testEnv, *Options)) *testEnv {
	t.Helper()

	db, err := repository.OpenSQLite(":memory:", logger.Nop())
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate())
	t.Cleanup(func() { _ = db.Close() })

	env := &testEnv{
		db:      db,
		reps:    repository.NewReputationRepository(db),
		grants:  repository.NewMilestoneRepository(db),
		content: repository.NewContentMetricsRepository(db),
		sink:    &recordingSink{},
		now:     time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
	}

	rules, err := milestones.NewRuleSet(milestones.DefaultRules(), repository.CountedMetrics())
	require.NoError(t, err)
	actions, err := reputation.NewActions(nil, reputation.DefaultMaxDelta)
	require.NoError(t, err)
	ids, err := idgen.New(1)
	require.NoError(t, err)

	opts := Options{
		Location:      time.UTC,
		MetricWorkers: 4,
		Now:           func() time.Time { return env.now },
	}
	env.metrics = env.content
	env.rules = rules
	for _, m := range mutate {
		m(env, &opts)
	}

	env.svc = NewServiceWithInterfaces(
		env.reps, env.grants, env.metrics, env.rules, actions,
		lock.NewKeyedMutex(), ids, env.sink, opts, logger.Nop(),
	)
	return env
}

func withFailingMetrics(metrics ...string) func(*testEnv, *Options) {
	return func(env *testEnv, _ *Options) {
		fail := make(map[string]bool, len(metrics))
		for _, m := range metrics {
			fail[m] = true
		}
		env.metrics = &failingMetrics{next: env.content, failOn: fail}
	}
}

func withRules(t *testing.T, rules ...models.MilestoneRule) func(*testEnv, *Options) {
	return func(env *testEnv, _ *Options) {
		set, err := milestones.NewRuleSet(rules, repository.CountedMetrics())
		require.NoError(t, err)
		env.rules = set
	}
}

func (e *testEnv) createUser(t *testing.T, userID string, points int64) {
	t.Helper()
	rep, created, err := e.reps.Create(context.Background(), userID)
	require.NoError(t, err)
	require.True(t, created)
	if points > 0 {
		rep.Points = points
		rep.Rank = reputation.ClassifyRank(points)
		require.NoError(t, e.reps.ApplyScore(context.Background(), rep))
	}
}

func (e *testEnv) addQuestions(t *testing.T, userID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		e.addQuestion(t, userID, i)
	}
}

func (e *testEnv) addQuestion(t *testing.T, userID string, i int) {
	t.Helper()
	require.NoError(t, e.db.Create(&models.Question{ID: fmt.Sprintf("%s-q%d", userID, i), UserID: userID}).Error)
}

func (e *testEnv) reputationOf(t *testing.T, userID string) *models.UserReputation {
	t.Helper()
	rep, err := e.reps.Get(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, rep)
	return rep
}

func TestAward_AppliesDeltaAndRecordsActivity(t *testing.T) {
	env := setupTestEnv(t)
	env.createUser(t, "alice", 0)

	result, err := env.svc.Award(context.Background(), Request{UserID: "alice", Delta: 15, ActionType: reputation.ActionAnswerGiven})
	require.NoError(t, err)

	assert.Equal(t, int64(15), result.NewPoints)
	assert.Equal(t, models.RankBeginner, result.NewRank)
	assert.Equal(t, int64(15), result.Delta)
	assert.Nil(t, result.Streak)
	assert.Empty(t, result.NewMilestones)

	rep := env.reputationOf(t, "alice")
	assert.Equal(t, int64(15), rep.Points)

	activities, err := env.reps.ListActivities(context.Background(), "alice", 0, 10)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, reputation.ActionAnswerGiven, activities[0].ActionType)
	assert.Equal(t, int64(15), activities[0].NewTotal)
	assert.NotZero(t, activities[0].ID)

	changed := env.sink.named(events.NameScoreChanged)
	require.Len(t, changed, 1)
	assert.Equal(t, int64(15), changed[0].(events.ScoreChanged).NewTotal)
}

func TestAward_ClampsAtZero(t *testing.T) {
	env := setupTestEnv(t)
	env.createUser(t, "bob", 3)

	result, err := env.svc.Award(context.Background(), Request{UserID: "bob", Delta: -10, ActionType: reputation.ActionPostLiked})
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.NewPoints)
	assert.Equal(t, int64(-3), result.Delta)
}

func TestAward_RankChangesAtBoundary(t *testing.T) {
	env := setupTestEnv(t)
	env.createUser(t, "carol", 499)

	result, err := env.svc.Award(context.Background(), Request{UserID: "carol", Delta: 1, ActionType: reputation.ActionPostLiked})
	require.NoError(t, err)
	assert.Equal(t, int64(500), result.NewPoints)
	assert.Equal(t, models.RankIntermediate, result.NewRank)

	result, err = env.svc.Award(context.Background(), Request{UserID: "carol", Delta: -1, ActionType: reputation.ActionPostLiked})
	require.NoError(t, err)
	assert.Equal(t, models.RankBeginner, result.NewRank)
}

func TestAward_ValidationErrors(t *testing.T) {
	env := setupTestEnv(t)
	env.createUser(t, "alice", 10)

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"unknown action", Request{UserID: "alice", Delta: 1, ActionType: "rocket_launched"}, reputation.ErrUnknownAction},
		{"reserved action", Request{UserID: "alice", Delta: 1, ActionType: reputation.ActionMilestoneReward}, reputation.ErrUnknownAction},
		{"empty user", Request{UserID: "", Delta: 1, ActionType: reputation.ActionPostLiked}, reputation.ErrInvalidUser},
		{"delta too large", Request{UserID: "alice", Delta: reputation.DefaultMaxDelta + 1, ActionType: reputation.ActionPostLiked}, reputation.ErrInvalidDelta},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Award(context.Background(), tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, reputation.IsValidation(err))
		})
	}

	assert.Equal(t, int64(10), env.reputationOf(t, "alice").Points, "rejected requests must not mutate state")
	assert.Empty(t, env.sink.named(events.NameScoreChanged))
}

func TestAward_UserNotFound(t *testing.T) {
	env := setupTestEnv(t)

	_, err := env.svc.Award(context.Background(), Request{UserID: "ghost", Delta: 5, ActionType: reputation.ActionPostCreated})
	assert.ErrorIs(t, err, reputation.ErrUserNotFound)
	assert.False(t, reputation.IsRetryable(err))
}

func TestAward_ConcurrentSameUserLosesNoUpdates(t *testing.T) {
	env := setupTestEnv(t)
	env.createUser(t, "popular", 0)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.AwardAction(context.Background(), "popular", reputation.ActionPostLiked)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int64(n), env.reputationOf(t, "popular").Points)

	activities, err := env.reps.ListActivities(context.Background(), "popular", 0, 100)
	require.NoError(t, err)
	assert.Len(t, activities, n)
}

func TestAward_GrantsMilestoneWithReward(t *testing.T) {
	env := setupTestEnv(t)
	env.createUser(t, "asker", 0)

	var last *Result
	for i := 0; i < 10; i++ {
		env.addQuestion(t, "asker", i)
		r, err := env.svc.AwardAction(context.Background(), "asker", reputation.ActionQuestionAsked)
		require.NoError(t, err)
		if i < 9 {
			assert.Empty(t, r.NewMilestones, "award %d", i+1)
			assert.Equal(t, int64(i+1), r.NewPoints)
		}
		last = r
	}

	require.Len(t, last.NewMilestones, 1)
	assert.Equal(t, "curious_mind", last.NewMilestones[0].ID)
	assert.Equal(t, int64(50), last.NewMilestones[0].RewardPoints)
	assert.Equal(t, int64(10+50), last.NewPoints)
	assert.Equal(t, int64(10+50), env.reputationOf(t, "asker").Points)

	earned := env.sink.named(events.NameMilestoneEarned)
	require.Len(t, earned, 1)
	assert.Equal(t, "curious_mind", earned[0].(events.MilestoneEarned).MilestoneID)

	// The milestone is granted at most once.
	env.addQuestion(t, "asker", 10)
	r, err := env.svc.AwardAction(context.Background(), "asker", reputation.ActionQuestionAsked)
	require.NoError(t, err)
	assert.Empty(t, r.NewMilestones)
	assert.Equal(t, int64(61), r.NewPoints)

	grants, err := env.grants.GetUserGrants(context.Background(), "asker")
	require.NoError(t, err)
	assert.Len(t, grants, 1)
}

func TestAward_MetricFailureSkipsOnlyDependentRules(t *testing.T) {
	env := setupTestEnv(t, withFailingMetrics(models.MetricQuestionsAsked))
	env.createUser(t, "writer", 0)
	env.addQuestions(t, "writer", 10)
	require.NoError(t, env.db.Create(&models.Post{ID: "p1", AuthorID: "writer"}).Error)

	result, err := env.svc.AwardAction(context.Background(), "writer", reputation.ActionPostCreated)
	require.NoError(t, err)

	ids := make([]string, 0, len(result.NewMilestones))
	for _, m := range result.NewMilestones {
		ids = append(ids, m.ID)
	}
	assert.Contains(t, ids, "first_post")
	assert.NotContains(t, ids, "curious_mind")
	assert.Equal(t, int64(5), result.NewPoints)
}

func TestAward_RankRewardCascades(t *testing.T) {
	env := setupTestEnv(t)
	env.createUser(t, "veteran", 9995)

	result, err := env.svc.Award(context.Background(), Request{UserID: "veteran", Delta: 10, ActionType: reputation.ActionAnswerAccepted})
	require.NoError(t, err)

	require.Len(t, result.NewMilestones, 1)
	assert.Equal(t, "top_contributor", result.NewMilestones[0].ID)
	assert.Equal(t, models.RankLegend, result.NewRank)
	assert.Equal(t, int64(10005+1000), result.NewPoints)
}

func TestAward_CountRulesGrantInSinglePass(t *testing.T) {
	env := setupTestEnv(t, withRules(t,
		models.MilestoneRule{ID: "asker", Metric: models.MetricQuestionsAsked, Threshold: 2, RewardPoints: 40},
		models.MilestoneRule{ID: "first_question", Metric: models.MetricQuestionsAsked, Threshold: 1, RewardPoints: 5},
	))
	require.False(t, env.rules.HasRankRules())
	env.createUser(t, "quiet", 0)
	env.addQuestions(t, "quiet", 2)

	result, err := env.svc.AwardAction(context.Background(), "quiet", reputation.ActionQuestionAsked)
	require.NoError(t, err)

	ids := make([]string, 0, len(result.NewMilestones))
	for _, m := range result.NewMilestones {
		ids = append(ids, m.ID)
	}
	assert.ElementsMatch(t, []string{"asker", "first_question"}, ids)
	assert.Equal(t, int64(1+40+5), result.NewPoints)

	again, err := env.svc.AwardAction(context.Background(), "quiet", reputation.ActionQuestionAsked)
	require.NoError(t, err)
	assert.Empty(t, again.NewMilestones)
	assert.Equal(t, int64(47), again.NewPoints)
}

func TestAward_PersistenceFailureLeavesNoPartialState(t *testing.T) {
	env := setupTestEnv(t)
	env.createUser(t, "dave", 20)
	require.NoError(t, env.db.Migrator().DropTable(&models.Activity{}))

	_, err := env.svc.Award(context.Background(), Request{UserID: "dave", Delta: 5, ActionType: reputation.ActionPostCreated})
	require.Error(t, err)
	assert.ErrorIs(t, err, reputation.ErrPersistence)
	assert.True(t, reputation.IsRetryable(err))

	assert.Equal(t, int64(20), env.reputationOf(t, "dave").Points)
	assert.Empty(t, env.sink.named(events.NameScoreChanged))
}

func TestAward_Streaks(t *testing.T) {
	env := setupTestEnv(t)
	env.createUser(t, "eve", 0)
	ctx := context.Background()

	day := func(d int) time.Time { return time.Date(2024, 3, d, 9, 0, 0, 0, time.UTC) }
	login := func(at time.Time) *Result {
		r, err := env.svc.Award(ctx, Request{UserID: "eve", ActionType: reputation.ActionDailyLogin, OccurredAt: at})
		require.NoError(t, err)
		require.NotNil(t, r.Streak)
		return r
	}

	r := login(day(1))
	assert.Equal(t, 1, r.Streak.Streak)
	assert.Equal(t, int64(10), r.Streak.Bonus)
	assert.Equal(t, reputation.StreakStarted, r.Streak.Transition)
	assert.Equal(t, int64(10), r.NewPoints)

	// Same day: no-op.
	r = login(day(1).Add(5 * time.Hour))
	assert.Equal(t, reputation.StreakUnchanged, r.Streak.Transition)
	assert.Equal(t, int64(0), r.Delta)

	r = login(day(2))
	assert.Equal(t, 2, r.Streak.Streak)
	assert.Equal(t, int64(14), r.Streak.Bonus)
	assert.Equal(t, int64(24), r.NewPoints)

	// Out of order trigger from the past is ignored.
	r = login(day(1))
	assert.Equal(t, reputation.StreakSkewed, r.Streak.Transition)
	assert.Equal(t, int64(24), r.NewPoints)

	// Missing a day resets.
	r = login(day(5))
	assert.Equal(t, reputation.StreakReset, r.Streak.Transition)
	assert.Equal(t, 1, r.Streak.Streak)
	assert.Equal(t, int64(34), r.NewPoints)

	rep := env.reputationOf(t, "eve")
	assert.Equal(t, 1, rep.Streak)
	require.NotNil(t, rep.LastActivityDate)
	assert.Equal(t, 5, rep.LastActivityDate.Day())
}

func TestAward_LoginClassDeltaAndBonusAreSeparateActivities(t *testing.T) {
	env := setupTestEnv(t)
	env.createUser(t, "frank", 0)

	result, err := env.svc.AwardAction(context.Background(), "frank", reputation.ActionChallengeSolved)
	require.NoError(t, err)
	assert.Equal(t, int64(10+10), result.NewPoints)

	activities, err := env.reps.ListActivities(context.Background(), "frank", 0, 10)
	require.NoError(t, err)
	require.Len(t, activities, 2)

	types := []string{activities[0].ActionType, activities[1].ActionType}
	assert.ElementsMatch(t, []string{reputation.ActionChallengeSolved, reputation.ActionDailyLogin}, types)
}

func TestAward_StreakUsesConfiguredTimezone(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	env := setupTestEnv(t, func(_ *testEnv, opts *Options) { opts.Location = tokyo })
	env.createUser(t, "gina", 0)
	ctx := context.Background()

	// 23:00 UTC on the 1st is the 2nd in Tokyo; 01:00 UTC on the 2nd is still the 2nd.
	_, err = env.svc.Award(ctx, Request{UserID: "gina", ActionType: reputation.ActionDailyLogin, OccurredAt: time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	r, err := env.svc.Award(ctx, Request{UserID: "gina", ActionType: reputation.ActionDailyLogin, OccurredAt: time.Date(2024, 3, 2, 1, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, reputation.StreakUnchanged, r.Streak.Transition)
}

func TestAward_ContextCancelledWhileWaitingForLock(t *testing.T) {
	env := setupTestEnv(t)
	env.createUser(t, "henry", 0)

	unlock, err := env.svc.locker.Lock(context.Background(), "henry")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = env.svc.AwardAction(ctx, "henry", reputation.ActionPostLiked)
	require.Error(t, err)
	assert.True(t, errors.Is(err, lock.ErrLockTimeout))
	assert.True(t, reputation.IsRetryable(err))
}

func TestReevaluate_PicksUpMissedGrants(t *testing.T) {
	env := setupTestEnv(t)
	env.createUser(t, "ivy", 0)
	env.addQuestions(t, "ivy", 12)

	earned, err := env.svc.Reevaluate(context.Background(), "ivy")
	require.NoError(t, err)
	require.Len(t, earned, 1)
	assert.Equal(t, "curious_mind", earned[0].ID)
	assert.Equal(t, int64(50), env.reputationOf(t, "ivy").Points)

	earned, err = env.svc.Reevaluate(context.Background(), "ivy")
	require.NoError(t, err)
	assert.Empty(t, earned)
}

func TestCreateAndDeleteAccount(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	rep, created, err := env.svc.CreateAccount(ctx, "jack")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(0), rep.Points)

	_, created, err = env.svc.CreateAccount(ctx, "jack")
	require.NoError(t, err)
	assert.False(t, created)

	_, _, err = env.svc.CreateAccount(ctx, "")
	assert.ErrorIs(t, err, reputation.ErrInvalidUser)

	require.NoError(t, env.svc.DeleteAccount(ctx, "jack"))
	assert.ErrorIs(t, env.svc.DeleteAccount(ctx, "jack"), reputation.ErrUserNotFound)
}
