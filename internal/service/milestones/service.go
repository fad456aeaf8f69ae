package milestones

import (
	"context"
	"fmt"
	"time"

	"github.com/devhub-community/reputation-engine/internal/config"
	prommetrics "github.com/devhub-community/reputation-engine/internal/metrics"
	"github.com/devhub-community/reputation-engine/internal/models"
	"github.com/devhub-community/reputation-engine/internal/repository"
	"github.com/devhub-community/reputation-engine/pkg/logger"
)

// GrantRepository interface for milestone grant reads.
type GrantRepository interface {
	GetUserGrants(ctx context.Context, userID string) ([]models.MilestoneGrant, error)
	HoldersCount(ctx context.Context) (map[string]int64, error)
}

// CatalogEntry is a configured milestone with its current number of holders.
type CatalogEntry struct {
	models.MilestoneRule
	Holders int64 `json:"holders"`
}

// EarnedMilestone is a grant joined with its rule definition.
type EarnedMilestone struct {
	models.MilestoneRule
	GrantedAt time.Time `json:"granted_at"`
}

// Service exposes the milestone catalogue and per-user grants.
type Service struct {
	rules  *RuleSet
	grants GrantRepository
	log    *logger.Logger
}

// NewService creates a new milestone service.
func NewService(rules *RuleSet, grants *repository.MilestoneRepository, log *logger.Logger) *Service {
	return &Service{rules: rules, grants: grants, log: log}
}

// NewServiceWithInterfaces creates a new milestone service with interface dependencies (useful for testing).
func NewServiceWithInterfaces(rules *RuleSet, grants GrantRepository, log *logger.Logger) *Service {
	return &Service{rules: rules, grants: grants, log: log}
}

// BuildRuleSet assembles the configured rule set: the defaults (unless disabled),
// then the rules file, then inline rules, later entries replacing earlier ones by ID.
func BuildRuleSet(cfg *config.MilestonesConfig) (*RuleSet, error) {
	var base []models.MilestoneRule
	if !cfg.DisableDefault {
		base = DefaultRules()
	}

	var fromFile []models.MilestoneRule
	if cfg.RulesFile != "" {
		rules, err := LoadRulesFile(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		fromFile = rules
	}

	rules := MergeRules(base, fromFile, cfg.Rules)
	if len(rules) == 0 {
		return nil, fmt.Errorf("no milestone rules configured")
	}
	return NewRuleSet(rules, repository.CountedMetrics())
}

// Rules returns the underlying rule set.
func (s *Service) Rules() *RuleSet {
	return s.rules
}

// Catalog returns every configured milestone with its holder count.
func (s *Service) Catalog(ctx context.Context) ([]CatalogEntry, error) {
	holders, err := s.grants.HoldersCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count milestone holders: %w", err)
	}

	rules := s.rules.Rules()
	entries := make([]CatalogEntry, len(rules))
	for i, r := range rules {
		entries[i] = CatalogEntry{MilestoneRule: r, Holders: holders[r.ID]}
	}
	return entries, nil
}

// UserMilestones returns the milestones a user has earned, oldest first.
// Grants whose rule was removed from configuration are still returned with only their ID.
func (s *Service) UserMilestones(ctx context.Context, userID string) ([]EarnedMilestone, error) {
	grants, err := s.grants.GetUserGrants(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user grants: %w", err)
	}

	earned := make([]EarnedMilestone, 0, len(grants))
	for _, g := range grants {
		rule, ok := s.rules.Get(g.MilestoneID)
		if !ok {
			rule = models.MilestoneRule{ID: g.MilestoneID}
		}
		earned = append(earned, EarnedMilestone{MilestoneRule: rule, GrantedAt: g.GrantedAt})
	}
	return earned, nil
}

// RefreshHolderMetrics updates the milestone holders gauge.
func (s *Service) RefreshHolderMetrics(ctx context.Context) error {
	holders, err := s.grants.HoldersCount(ctx)
	if err != nil {
		return err
	}
	for _, r := range s.rules.Rules() {
		prommetrics.SetMilestoneHolders(r.ID, holders[r.ID])
	}
	return nil
}
