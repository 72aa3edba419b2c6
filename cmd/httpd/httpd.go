// Package httpd implements the HTTP trigger surface: harvest and
// recompile endpoints, health, and Prometheus metrics.
package httpd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/spechawk/cmd/common"
	"github.com/jonesrussell/spechawk/internal/catalog"
)

const errorChannelBufferSize = 1

// Command returns the httpd command.
func Command() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "httpd",
		Short: "Serve the harvest trigger API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := common.NewDeps(cfgPath)
			if err != nil {
				return err
			}
			return Start(cmd.Context(), deps)
		},
	}

	cmd.Flags().StringVar(&cfgPath, "config", "", "config file path")
	return cmd
}

// Start builds the pipeline, serves the API, and blocks until a shutdown
// signal or server error.
func Start(ctx context.Context, deps *common.Deps) error {
	pack, err := common.LoadPack(deps)
	if err != nil {
		return fmt.Errorf("load category pack: %w", err)
	}

	harvester, err := common.NewHarvester(deps, pack)
	if err != nil {
		return err
	}
	if startErr := harvester.Start(ctx); startErr != nil {
		return startErr
	}
	defer harvester.Close(context.Background())

	server := &http.Server{
		Addr:    deps.Config.Server.Address,
		Handler: newRouter(deps, harvester),
	}

	deps.Logger.Info("http server starting", "addr", server.Addr)
	errChan := make(chan error, errorChannelBufferSize)
	go func() {
		if serveErr := server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- serveErr
		}
	}()

	return runUntilInterrupt(ctx, deps, server, errChan)
}

func runUntilInterrupt(ctx context.Context, deps *common.Deps, server *http.Server, errChan chan error) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case serveErr := <-errChan:
		return fmt.Errorf("server error: %w", serveErr)
	case <-ctx.Done():
	case sig := <-sigChan:
		deps.Logger.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), deps.Config.Server.ShutdownTimeout)
	defer cancel()

	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		return fmt.Errorf("shutdown server: %w", shutdownErr)
	}
	deps.Logger.Info("http server stopped")
	return nil
}

// newRouter wires the gin routes.
func newRouter(deps *common.Deps, harvester *common.Harvester) *gin.Engine {
	if !deps.Config.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"category": deps.Config.App.Category,
		})
	})

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		deps.Registry, promhttp.HandlerOpts{},
	)))

	api := router.Group("/api/v1")
	api.POST("/harvest/:productID", harvestHandler(deps, harvester))
	api.POST("/recompile", recompileHandler(deps, harvester))

	return router
}

// harvestHandler runs a synchronous harvest for one product.
func harvestHandler(deps *common.Deps, harvester *common.Harvester) gin.HandlerFunc {
	return func(c *gin.Context) {
		productID := c.Param("productID")

		result, err := harvester.HarvestProduct(c.Request.Context(), productID)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, catalog.ErrProductNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"summary":  result.Summary,
			"artifact": result.Artifact,
			"lights":   result.Lights,
		})
	}
}

// recompileRequest selects what to replay from the survivor ledger.
type recompileRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Field     string `json:"field,omitempty"`
}

// recompileHandler replays consensus over persisted survivors without
// refetching.
func recompileHandler(deps *common.Deps, harvester *common.Harvester) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req recompileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if harvester.Candidates() == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "survivor ledger is not available"})
			return
		}

		results, err := recompile(c.Request.Context(), deps, harvester, req)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"product_id": req.ProductID,
			"fields":     results,
		})
	}
}
