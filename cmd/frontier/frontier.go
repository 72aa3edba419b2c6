// Package frontier implements the operator CLI for inspecting the
// persistent frontier: query history, live cooldowns, and field yields
// for one product.
package frontier

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/spechawk/cmd/common"
	"github.com/jonesrussell/spechawk/internal/frontier"
)

// Command returns the frontier command.
func Command() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "frontier <productID>",
		Short: "Inspect the frontier state for a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := common.NewDeps(cfgPath)
			if err != nil {
				return err
			}
			return show(deps, args[0])
		},
	}

	cmd.Flags().StringVar(&cfgPath, "config", "", "config file path")
	return cmd
}

func show(deps *common.Deps, productID string) error {
	cfg := deps.Config

	store := frontier.NewStore(cfg.App.Category, cfg.CooldownPolicy(), deps.Logger)
	store.SetSnapshotPath(common.FrontierSnapshotPath(cfg.Storage.DataDir, cfg.App.Category))
	if err := store.Load(); err != nil {
		return fmt.Errorf("load frontier snapshot: %w", err)
	}

	snap := store.SnapshotForProduct(productID)

	fmt.Printf("frontier for %s (category %s): %d distinct urls, %d tombstoned\n",
		productID, cfg.App.Category, snap.DistinctURLs, snap.TombstonedCount)

	renderQueries(snap)
	renderCooldowns(snap)
	renderYields(snap)
	return nil
}

func renderQueries(snap frontier.Snapshot) {
	if len(snap.Queries) == 0 {
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("Queries")
	t.AppendHeader(table.Row{"Query", "Attempts", "Last At", "Results"})
	for _, q := range snap.Queries {
		t.AppendRow(table.Row{
			q.Query,
			q.Attempts,
			q.LastAt.Format(time.RFC3339),
			len(q.Results),
		})
	}
	t.Render()
}

func renderCooldowns(snap frontier.Snapshot) {
	if len(snap.LiveCooldowns) == 0 {
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("Live Cooldowns")
	t.AppendHeader(table.Row{"URL", "Reason", "Next Retry", "Last Status"})
	for _, record := range snap.LiveCooldowns {
		t.AppendRow(table.Row{
			record.CanonicalURL,
			record.Cooldown.Reason,
			record.Cooldown.NextRetryAt.Format(time.RFC3339),
			record.LastStatus,
		})
	}
	t.Render()
}

func renderYields(snap frontier.Snapshot) {
	if len(snap.FieldYields) == 0 {
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("Field Yields")
	t.AppendHeader(table.Row{"Field", "Contributions"})
	for field, count := range snap.FieldYields {
		t.AppendRow(table.Row{field, count})
	}
	t.SortBy([]table.SortBy{{Name: "Field", Mode: table.Asc}})
	t.Render()
}
