package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/devhub-community/reputation-engine/internal/config"
	"github.com/devhub-community/reputation-engine/internal/models"
	"github.com/devhub-community/reputation-engine/internal/service/milestones"
)

// NewRulesCommand creates the rules command group.
func NewRulesCommand(_ *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect milestone rules",
	}
	cmd.AddCommand(newRulesValidateCommand())
	return cmd
}

func newRulesValidateCommand() *cobra.Command {
	var withDefaults bool

	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a milestone rules file",
		Long: `Validate a milestone rules file without starting the engine.

The file is merged over the built-in rules unless --defaults=false is given,
so overrides are checked the same way the server loads them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := milestones.BuildRuleSet(&config.MilestonesConfig{
				RulesFile:      args[0],
				DisableDefault: !withDefaults,
			})
			if err != nil {
				return fmt.Errorf("invalid rules: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tCONDITION\tREWARD")
			for _, r := range set.Rules() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", r.ID, r.Kind, condition(r), r.RewardPoints)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d rules OK\n", len(set.Rules()))
			return nil
		},
	}

	cmd.Flags().BoolVar(&withDefaults, "defaults", true, "merge the file over the built-in rules")
	return cmd
}

func condition(r models.MilestoneRule) string {
	switch {
	case r.Expression != "":
		return r.Expression
	case r.Metric == models.MetricRank:
		return fmt.Sprintf("rank >= %s", r.Rank)
	default:
		return fmt.Sprintf("%s >= %d", r.Metric, r.Threshold)
	}
}
