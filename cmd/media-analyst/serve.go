package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lizheng/media-analyst/internal/api"
	"github.com/lizheng/media-analyst/internal/log"
	"github.com/lizheng/media-analyst/internal/metrics"
	"github.com/lizheng/media-analyst/internal/service"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve runs the HTTP API and the scheduled jobs",
	RunE:  doServe,
}

func doServe(cmd *cobra.Command, _ []string) error {
	ctx := log.ContextAttrs(cmd.Context(), slog.String("cmd", "serve"), slog.Int("pid", os.Getpid()))

	var sopts []service.Option
	var aopts []api.Option
	if config.Service.Metrics {
		sopts = append(sopts, service.WithMetrics(metrics.New(prometheus.DefaultRegisterer)))
		aopts = append(aopts, api.WithMetrics(prometheus.DefaultGatherer))
	}
	aopts = append(aopts, api.WithDebug(config.Service.Debug))

	sup, history, err := newSupervisor(ctx, sopts...)
	if err != nil {
		return err
	}
	if history != nil {
		aopts = append(aopts, api.WithHistory(history))
	}

	handler, err := api.New(sup, aopts...).Handler()
	if err != nil {
		_ = sup.Close(ctx)
		return err
	}
	srv := &http.Server{
		Addr:              config.Service.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.InfoContext(ctx, "listening", "addr", srv.Addr, "jobs", sup.Jobs())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			slog.ErrorContext(ctx, "shutting down http server", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		return sup.Do(gctx)
	})
	return g.Wait()
}
