package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"chat-bridge/config"
	"chat-bridge/internal/dependency"
	"chat-bridge/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bridge HTTP server",
	RunE:  runServe,
}

func runServe(_ *cobra.Command, _ []string) error {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	c, err := dependency.New(loader, dependency.Version(Version))
	if err != nil {
		return fmt.Errorf("wire services: %w", err)
	}
	defer c.Close()

	log := c.Logger()
	loader.Watch(func(next *config.Config) {
		if err := log.SetLevel(next.Logging.Level); err != nil {
			log.Warn(logger.ComponentConfig, logger.CategoryWarning, "", "Ignoring invalid log level", map[string]interface{}{
				"level": next.Logging.Level,
			})
			return
		}
		log.Info(logger.ComponentConfig, logger.CategoryHealth, "", "Configuration reloaded", map[string]interface{}{
			"level": next.Logging.Level,
		})
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           c.Server().Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: a streamed response lasts as long as the backend keeps generating
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info(logger.ComponentProxy, logger.CategoryHealth, "", "chat-bridge started", map[string]interface{}{
			"address":     fmt.Sprintf("http://localhost:%s", cfg.Server.Port),
			"backend":     c.Backend().Endpoint(),
			"big_model":   cfg.Models.Big,
			"small_model": cfg.Models.Small,
			"store":       cfg.Store.Enabled,
			"version":     GetVersionInfo(),
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info(logger.ComponentProxy, logger.CategoryHealth, "", "Shutting down", nil)
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error(logger.ComponentProxy, logger.CategoryError, "", "Server stopped with error", map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}
	return nil
}
