// Package harvest implements the harvest command: it runs the
// convergence loop for one product, or for every product in the
// category pack.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/spechawk/cmd/common"
	"github.com/jonesrussell/spechawk/internal/convergence"
	"github.com/jonesrussell/spechawk/internal/domain"
)

// defaultMaxAttempts bounds --until-complete re-runs per product.
const defaultMaxAttempts = 3

// Command returns the harvest command.
func Command() *cobra.Command {
	var (
		cfgPath       string
		all           bool
		untilComplete bool
		maxAttempts   int
	)

	cmd := &cobra.Command{
		Use:   "harvest [productID]",
		Short: "Run the spec convergence loop for a product",
		Long: `Runs search, fetch, extraction, identity gating, and consensus rounds
for a product until its spec converges or the stop decision fires.

With --all, every product in the category pack is harvested in order.
With --until-complete, a product that fails validation is re-run up to
--max-attempts times; frontier cooldowns steer later attempts to fresh
sources.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return errors.New("a product ID is required unless --all is set")
			}
			if all && len(args) > 0 {
				return errors.New("--all and an explicit product ID are mutually exclusive")
			}

			deps, err := common.NewDeps(cfgPath)
			if err != nil {
				return err
			}

			productID := ""
			if len(args) == 1 {
				productID = args[0]
			}
			return run(cmd.Context(), deps, productID, untilComplete, maxAttempts)
		},
	}

	cmd.Flags().StringVar(&cfgPath, "config", "", "config file path")
	cmd.Flags().BoolVar(&all, "all", false, "harvest every product in the category pack")
	cmd.Flags().BoolVar(&untilComplete, "until-complete", false, "re-run unvalidated products")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", defaultMaxAttempts, "attempt cap with --until-complete")

	return cmd
}

func run(parent context.Context, deps *common.Deps, productID string, untilComplete bool, maxAttempts int) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	pack, err := common.LoadPack(deps)
	if err != nil {
		return err
	}

	harvester, err := common.NewHarvester(deps, pack)
	if err != nil {
		return err
	}
	if startErr := harvester.Start(ctx); startErr != nil {
		return startErr
	}
	defer harvester.Close(context.Background())

	ids := []string{productID}
	if productID == "" {
		ids = ids[:0]
		for i := range pack.Products {
			ids = append(ids, pack.Products[i].ID)
		}
	}

	var failed int
	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		result, runErr := harvestOne(ctx, harvester, id, untilComplete, maxAttempts)
		if runErr != nil {
			deps.Logger.Error("harvest failed", "product_id", id, "error", runErr.Error())
			failed++
			continue
		}

		render(result)
		if !result.Summary.Validated {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d products did not validate", failed, len(ids))
	}
	return nil
}

// harvestOne runs a product, retrying while --until-complete allows.
func harvestOne(
	ctx context.Context,
	harvester *common.Harvester,
	productID string,
	untilComplete bool,
	maxAttempts int,
) (*convergence.RunResult, error) {
	if !untilComplete || maxAttempts < 1 {
		maxAttempts = 1
	}

	var result *convergence.RunResult
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		result, err = harvester.HarvestProduct(ctx, productID)
		if err != nil {
			return nil, err
		}
		if result.Summary.Validated || !untilComplete {
			break
		}
	}
	return result, err
}

// render prints the run summary and per-field verdicts as a table.
func render(result *convergence.RunResult) {
	s := result.Summary
	fmt.Printf("\n%s run %s: validated=%t confidence=%.2f rounds=%d stop=%s\n",
		s.ProductID, s.RunID, s.Validated, s.Confidence, s.Rounds, s.StopReason)
	if !s.Validated && s.ValidatedReason != "" {
		fmt.Printf("reason: %s\n", s.ValidatedReason)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Field", "Value", "Unit", "Confidence", "Light", "Reasons"})

	for field, light := range result.Lights {
		fr := result.Fields[field]
		t.AppendRow(table.Row{
			field,
			fr.Value,
			fr.Unit,
			fmt.Sprintf("%.2f", fr.Confidence),
			colorBadge(light.Color),
			joinReasons(light.ReasonCodes),
		})
	}
	t.SortBy([]table.SortBy{{Name: "Field", Mode: table.Asc}})
	t.Render()
}

func colorBadge(color domain.TrafficColor) string {
	return string(color)
}

func joinReasons(reasons []string) string {
	if len(reasons) == 0 {
		return ""
	}
	out := reasons[0]
	for _, r := range reasons[1:] {
		out += ", " + r
	}
	return out
}
