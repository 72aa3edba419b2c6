// Package intel implements the operator CLI for the domain intelligence
// store: daily reports, promotion/demotion suggestions, and field
// coverage gaps.
package intel

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/spechawk/cmd/common"
	"github.com/jonesrussell/spechawk/internal/intel"
)

// Command returns the intel command with its subcommands.
func Command() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "intel",
		Short: "Inspect domain intelligence",
	}
	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path")

	cmd.AddCommand(reportCommand(&cfgPath))
	cmd.AddCommand(coverageCommand(&cfgPath))
	return cmd
}

func loadStore(deps *common.Deps) (*intel.Store, error) {
	store := intel.NewStore(common.IntelSnapshotPath(deps.Config.Storage.DataDir))
	if err := store.Load(); err != nil {
		return nil, fmt.Errorf("load intel snapshot: %w", err)
	}
	return store, nil
}

func reportCommand(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Print the daily domain report for the configured category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := common.NewDeps(*cfgPath)
			if err != nil {
				return err
			}
			store, err := loadStore(deps)
			if err != nil {
				return err
			}

			report := store.DailyReport(deps.Config.App.Category)
			renderReport(report)
			return nil
		},
	}
}

func coverageCommand(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "coverage",
		Short: "Classify schema fields by domain coverage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := common.NewDeps(*cfgPath)
			if err != nil {
				return err
			}
			store, err := loadStore(deps)
			if err != nil {
				return err
			}
			pack, err := common.LoadPack(deps)
			if err != nil {
				return err
			}

			fields := make([]string, 0, len(pack.Rules.Fields))
			for key := range pack.Rules.Fields {
				fields = append(fields, key)
			}
			sort.Strings(fields)

			gaps := store.CoverageReport(deps.Config.App.Category, fields)
			fmt.Printf("coverage for %s: %d gaps, %d weak\n",
				deps.Config.App.Category, len(gaps.Gaps), len(gaps.Weak))
			if len(gaps.Gaps) > 0 {
				fmt.Printf("gaps: %s\n", strings.Join(gaps.Gaps, ", "))
			}
			if len(gaps.Weak) > 0 {
				fmt.Printf("weak: %s\n", strings.Join(gaps.Weak, ", "))
			}
			return nil
		},
	}
}

func renderReport(report intel.Report) {
	fmt.Printf("intel report for %s on %s\n", report.Category, report.Date)

	if len(report.DomainStats) > 0 {
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetTitle("Domains")
		t.AppendHeader(table.Row{
			"Domain", "Attempts", "OK Rate", "Identity Rate", "Yield", "Planner Score",
		})
		for i := range report.DomainStats {
			stats := report.DomainStats[i]
			rates := intel.Derive(&stats)
			t.AppendRow(table.Row{
				stats.Domain,
				stats.Attempts,
				fmt.Sprintf("%.2f", rates.HTTPOKRate),
				fmt.Sprintf("%.2f", rates.IdentityMatchRate),
				fmt.Sprintf("%.2f", rates.AcceptanceYield),
				fmt.Sprintf("%.3f", rates.PlannerScore),
			})
		}
		t.Render()
	}

	renderSuggestions("Promotion Suggestions", report.Promotions)
	renderSuggestions("Demotion Suggestions", report.Demotions)
	renderExpansions(report.Expansions)
}

func renderExpansions(plans []intel.BrandExpansionPlan) {
	if len(plans) == 0 {
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("Brand Expansion Plans")
	t.AppendHeader(table.Row{"Brand", "Domain", "Identity Rate", "Reasons"})
	for _, p := range plans {
		t.AppendRow(table.Row{
			p.Brand,
			p.Domain,
			fmt.Sprintf("%.2f", p.Rates.IdentityMatchRate),
			strings.Join(p.Reasons, ", "),
		})
	}
	t.Render()
}

func renderSuggestions(title string, suggestions []intel.Suggestion) {
	if len(suggestions) == 0 {
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(title)
	t.AppendHeader(table.Row{"Domain", "Planner Score", "Reasons"})
	for _, s := range suggestions {
		t.AppendRow(table.Row{
			s.Domain,
			fmt.Sprintf("%.3f", s.Rates.PlannerScore),
			strings.Join(s.Reasons, ", "),
		})
	}
	t.Render()
}
