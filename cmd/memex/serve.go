package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/memex/internal/version"
)

// Process roles.
const (
	roleAPI    = "api"
	roleWorker = "worker"
	roleAll    = "all"
)

func parseRole(s string) (api, worker bool, err error) {
	switch s {
	case roleAPI:
		return true, false, nil
	case roleWorker:
		return false, true, nil
	case roleAll:
		return true, true, nil
	default:
		return false, false, fmt.Errorf("unknown role %q: want api, worker or all", s)
	}
}

// NewServeCmd runs the HTTP API, the ingestion worker or both.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and/or the ingestion worker",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().String("role", roleAll, "Process role: api, worker or all")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	role, _ := cmd.Flags().GetString("role")
	withAPI, withWorker, err := parseRole(role)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, logger, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	defer func() { _ = a.Close() }()

	logger.Info("Starting memex",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("role", role),
	)

	var (
		wg   sync.WaitGroup
		errs = make(chan error, 2)
	)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if withWorker {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.Worker.Run(runCtx); err != nil {
				errs <- fmt.Errorf("worker: %w", err)
				cancel()
			}
		}()
	}

	if withAPI {
		cfg := a.Config().HTTP
		srv := &http.Server{
			Addr:         cfg.Addr(),
			Handler:      a.Handler(),
			ReadTimeout:  time.Duration(cfg.ReadTimeoutSec) * time.Second,
			WriteTimeout: time.Duration(cfg.WriteTimeoutSec) * time.Second,
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("Starting HTTP server", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- fmt.Errorf("http server: %w", err)
				cancel()
			}
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			<-runCtx.Done()
			shutdownCtx, stop := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownSec)*time.Second)
			defer stop()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("Error during shutdown", zap.Error(err))
			}
		}()
	}

	<-runCtx.Done()
	logger.Info("Shutting down")
	wg.Wait()
	close(errs)

	var joined []error
	for err := range errs {
		joined = append(joined, err)
	}
	if len(joined) > 0 {
		return errors.Join(joined...)
	}
	logger.Info("Stopped gracefully")
	return nil
}
