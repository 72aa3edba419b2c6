// Package scheduler implements the cron-driven intel reporter: on the
// configured schedule it assembles the daily domain report and writes it
// to the data directory for operator review.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/spechawk/cmd/common"
	"github.com/jonesrussell/spechawk/internal/intel"
	"github.com/jonesrussell/spechawk/internal/storage"
)

// Command returns the scheduler command.
func Command() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Run scheduled intel reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := common.NewDeps(cfgPath)
			if err != nil {
				return err
			}
			return run(deps)
		},
	}

	cmd.Flags().StringVar(&cfgPath, "config", "", "config file path")
	return cmd
}

func run(deps *common.Deps) error {
	cfg := deps.Config
	log := deps.Logger.WithComponent("scheduler")

	files, err := storage.NewFileStore(cfg.Storage.DataDir, deps.Logger)
	if err != nil {
		return fmt.Errorf("create file store: %w", err)
	}

	c := cron.New()
	_, err = c.AddFunc(cfg.Scheduler.IntelReportCron, func() {
		if reportErr := emitReport(deps, files); reportErr != nil {
			log.Error("intel report failed", "error", reportErr.Error())
		}
	})
	if err != nil {
		return fmt.Errorf("schedule intel report %q: %w", cfg.Scheduler.IntelReportCron, err)
	}

	log.Info("scheduler started", "cron", cfg.Scheduler.IntelReportCron)
	c.Start()
	defer c.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info("scheduler stopping", "signal", sig.String())
	return nil
}

// emitReport loads the current intel snapshot, builds the dated report,
// and writes it under reports/intel/.
func emitReport(deps *common.Deps, files *storage.FileStore) error {
	cfg := deps.Config

	store := intel.NewStore(common.IntelSnapshotPath(cfg.Storage.DataDir))
	if err := store.Load(); err != nil {
		return fmt.Errorf("load intel snapshot: %w", err)
	}

	report := store.DailyReport(cfg.App.Category)
	key := fmt.Sprintf("reports/intel/%s/%s.json", report.Category, report.Date)
	if err := files.WriteObject(context.Background(), key, report); err != nil {
		return fmt.Errorf("write intel report: %w", err)
	}

	deps.Logger.Info("intel report written",
		"key", key,
		"domains", len(report.DomainStats),
		"promotions", len(report.Promotions),
		"demotions", len(report.Demotions),
		"expansions", len(report.Expansions),
	)
	return nil
}
