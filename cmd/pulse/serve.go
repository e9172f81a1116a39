package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/azure/discussion-pulse/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the keyword scheduler",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.Info("Starting Discussion Pulse")

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// Keywords stuck in processing are never due again
	if n, err := a.store.ResetStaleProcessing(cmd.Context()); err != nil {
		return err
	} else if n > 0 {
		logrus.Warnf("Reset %d keywords left processing by a previous run", n)
	}

	if cfg.SchedulerEnabled {
		if err := a.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	} else {
		logrus.Info("Scheduler disabled")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      api.NewServer(a.monitor, a.scheduler, a.store).Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.CycleTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logrus.Infof("HTTP server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	logrus.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}
	a.scheduler.Stop(ctx)

	logrus.Info("Server exited")
	return nil
}
