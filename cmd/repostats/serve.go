package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/CZERTAINLY/RepoStats/internal/api"
	"github.com/CZERTAINLY/RepoStats/internal/ghapi"
	"github.com/CZERTAINLY/RepoStats/internal/log"
	"github.com/CZERTAINLY/RepoStats/internal/service"
)

const shutdownTimeout = 10 * time.Second

var flagListen string

func init() {
	serveCmd.Flags().StringVar(&flagListen, "listen", "", "address to listen on, overrides service.listen")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve runs the HTTP API",
	RunE:  doServe,
}

func doServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	attrs := slog.Group("repostats",
		slog.String("cmd", "serve"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	tool, err := service.ToolFromConfig(config.Tool)
	if err != nil {
		return err
	}
	registry := service.NewRegistry()
	manager := service.NewManager(registry, tool)

	sched, err := service.NewRetention(ctx, registry, config.Retention)
	if err != nil {
		return err
	}
	if sched != nil {
		sched.Start()
		defer func() {
			if err := sched.Shutdown(); err != nil {
				slog.WarnContext(ctx, "stopping retention", "error", err)
			}
		}()
	}

	addr := config.Service.Listen
	if flagListen != "" {
		addr = flagListen
	}
	handler := api.New(ctx, manager, ghapi.New(),
		api.WithRateLimit(config.Service.RateLimit.RPS, config.Service.RateLimit.Burst),
		api.WithVersion(version()),
	)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	slog.InfoContext(ctx, "listening", "addr", addr)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving %s: %w", addr, err)
		}
	case <-ctx.Done():
		slog.InfoContext(ctx, "shutting down")
	}

	// jobs run under ctx and are already being interrupted
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	manager.Wait()
	return err
}
