// Package milestones evaluates badge and trophy rules against a user's metric snapshot.
package milestones

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/devhub-community/reputation-engine/internal/models"
)

// DefaultRules returns the built-in milestone catalogue.
func DefaultRules() []models.MilestoneRule {
	return []models.MilestoneRule{
		{
			ID:           "curious_mind",
			Kind:         models.MilestoneKindBadge,
			Title:        "Curious Mind",
			Description:  "Asked 10 questions",
			Icon:         "❓",
			Metric:       models.MetricQuestionsAsked,
			Threshold:    10,
			RewardPoints: 50,
		},
		{
			ID:           "mentor",
			Kind:         models.MilestoneKindBadge,
			Title:        "Mentor",
			Description:  "20 accepted answers with the maximum helpfulness reward",
			Icon:         "🧑‍🏫",
			Metric:       models.MetricHelpfulAnswers,
			Threshold:    20,
			RewardPoints: 200,
		},
		{
			ID:           "rising_dev",
			Kind:         models.MilestoneKindTrophy,
			Title:        "Rising Dev",
			Description:  "10 posts with at least 50 likes each",
			Icon:         "🚀",
			Metric:       models.MetricPopularPosts,
			Threshold:    10,
			RewardPoints: 300,
		},
		{
			ID:           "community_hero",
			Kind:         models.MilestoneKindTrophy,
			Title:        "Community Hero",
			Description:  "Posted 100 comments",
			Icon:         "🦸",
			Metric:       models.MetricCommentsPosted,
			Threshold:    100,
			RewardPoints: 150,
		},
		{
			ID:           "top_contributor",
			Kind:         models.MilestoneKindTrophy,
			Title:        "Top Contributor",
			Description:  "Reached Legend rank",
			Icon:         "🏆",
			Metric:       models.MetricRank,
			Rank:         models.RankLegend,
			RewardPoints: 1000,
		},
		{
			ID:          "first_post",
			Kind:        models.MilestoneKindBadge,
			Title:       "First Post",
			Description: "Published a first post",
			Icon:        "✍️",
			Metric:      models.MetricPostsCreated,
			Threshold:   1,
		},
		{
			ID:          "popular_writer",
			Kind:        models.MilestoneKindBadge,
			Title:       "Popular Writer",
			Description: "Received 100 likes across posts",
			Icon:        "❤️",
			Metric:      models.MetricLikesReceived,
			Threshold:   100,
		},
		{
			ID:          "helper",
			Kind:        models.MilestoneKindBadge,
			Title:       "Helper",
			Description: "Gave 10 answers",
			Icon:        "🤝",
			Metric:      models.MetricAnswersGiven,
			Threshold:   10,
		},
		{
			ID:          "streak_master",
			Kind:        models.MilestoneKindBadge,
			Title:       "Streak Master",
			Description: "Kept a 7 day login streak",
			Icon:        "🔥",
			Metric:      models.MetricStreakDays,
			Threshold:   7,
		},
	}
}

// rulesFile is the on-disk format of a rules file.
type rulesFile struct {
	Rules []models.MilestoneRule `yaml:"rules"`
}

// LoadRulesFile reads rules from a YAML file.
func LoadRulesFile(path string) ([]models.MilestoneRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}
	if len(file.Rules) == 0 {
		return nil, fmt.Errorf("rules file %s defines no rules", path)
	}
	return file.Rules, nil
}

// MergeRules overlays overrides on base by ID. Overrides with a new ID are appended.
func MergeRules(base []models.MilestoneRule, overrides ...[]models.MilestoneRule) []models.MilestoneRule {
	merged := make([]models.MilestoneRule, len(base))
	copy(merged, base)

	index := make(map[string]int, len(merged))
	for i, r := range merged {
		index[r.ID] = i
	}

	for _, set := range overrides {
		for _, r := range set {
			if i, ok := index[r.ID]; ok {
				merged[i] = r
				continue
			}
			index[r.ID] = len(merged)
			merged = append(merged, r)
		}
	}
	return merged
}
