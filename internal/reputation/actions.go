package reputation

import (
	"fmt"
	"sort"
	"strings"
)

// Action types accepted from callers.
const (
	ActionPostCreated           = "post_created"
	ActionPostLiked             = "post_liked"
	ActionQuestionAsked         = "question_asked"
	ActionQuestionUpvoted       = "question_upvoted"
	ActionAnswerGiven           = "answer_given"
	ActionAnswerAccepted        = "answer_accepted"
	ActionAnswerAcceptedHelpful = "answer_accepted_helpful"
	ActionAnswerUpvoted         = "answer_upvoted"
	ActionCommentPosted         = "comment_posted"
	ActionChallengeSolved       = "challenge_solved"
	ActionDailyLogin            = "daily_login"
	ActionDailyStreak           = "daily_streak"
)

// ActionMilestoneReward records milestone reward points. It is written by the engine only.
const ActionMilestoneReward = "milestone_reward"

// DefaultMaxDelta bounds the absolute value of a single award.
const DefaultMaxDelta int64 = 10000

// ActionSpec describes one action type.
type ActionSpec struct {
	Name       string `mapstructure:"name" yaml:"name" json:"name"`
	Delta      int64  `mapstructure:"delta" yaml:"delta" json:"delta"`
	LoginClass bool   `mapstructure:"login_class" yaml:"login_class" json:"login_class"`
}

// DefaultActionSpecs returns the built-in action vocabulary.
func DefaultActionSpecs() []ActionSpec {
	return []ActionSpec{
		{Name: ActionPostCreated, Delta: 5},
		{Name: ActionPostLiked, Delta: 1},
		{Name: ActionQuestionAsked, Delta: 1},
		{Name: ActionQuestionUpvoted, Delta: 5},
		{Name: ActionAnswerGiven, Delta: 15},
		{Name: ActionAnswerAccepted, Delta: 20},
		{Name: ActionAnswerAcceptedHelpful, Delta: 30},
		{Name: ActionAnswerUpvoted, Delta: 1},
		{Name: ActionCommentPosted, Delta: 0},
		{Name: ActionChallengeSolved, Delta: 10, LoginClass: true},
		{Name: ActionDailyLogin, Delta: 0, LoginClass: true},
		{Name: ActionDailyStreak, Delta: 0, LoginClass: true},
	}
}

// Actions is the validated action vocabulary.
type Actions struct {
	specs    map[string]ActionSpec
	maxDelta int64
}

// NewActions builds the vocabulary from the defaults, overlaid with overrides.
// maxDelta <= 0 selects DefaultMaxDelta.
func NewActions(overrides []ActionSpec, maxDelta int64) (*Actions, error) {
	if maxDelta <= 0 {
		maxDelta = DefaultMaxDelta
	}

	specs := make(map[string]ActionSpec)
	for _, spec := range DefaultActionSpecs() {
		specs[spec.Name] = spec
	}

	for _, spec := range overrides {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return nil, fmt.Errorf("action override has empty name")
		}
		if name == ActionMilestoneReward {
			return nil, fmt.Errorf("action %q is reserved", name)
		}
		if spec.Delta > maxDelta || spec.Delta < -maxDelta {
			return nil, fmt.Errorf("action %q default delta %d exceeds max %d", name, spec.Delta, maxDelta)
		}
		spec.Name = name
		specs[name] = spec
	}

	return &Actions{specs: specs, maxDelta: maxDelta}, nil
}

// Lookup returns the ActionSpec registered under name.
func (a *Actions) Lookup(name string) (ActionSpec, bool) {
	spec, ok := a.specs[name]
	return spec, ok
}

// MaxDelta returns the configured bound on |delta|.
func (a *Actions) MaxDelta() int64 {
	return a.maxDelta
}

// Names returns the sorted list of accepted action types.
func (a *Actions) Names() []string {
	names := make([]string, 0, len(a.specs))
	for name := range a.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs returns all specs sorted by name.
func (a *Actions) Specs() []ActionSpec {
	out := make([]ActionSpec, 0, len(a.specs))
	for _, name := range a.Names() {
		out = append(out, a.specs[name])
	}
	return out
}

// Validate checks an award request and returns the matching spec.
func (a *Actions) Validate(userID, actionType string, delta int64) (ActionSpec, error) {
	if strings.TrimSpace(userID) == "" {
		return ActionSpec{}, ErrInvalidUser
	}
	spec, ok := a.specs[actionType]
	if !ok {
		return ActionSpec{}, fmt.Errorf("%w: %q", ErrUnknownAction, actionType)
	}
	if delta > a.maxDelta || delta < -a.maxDelta {
		return ActionSpec{}, fmt.Errorf("%w: |%d| exceeds %d", ErrInvalidDelta, delta, a.maxDelta)
	}
	return spec, nil
}
