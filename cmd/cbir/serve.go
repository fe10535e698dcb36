package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/server"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/middleware"
)

func (a *app) serveCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP query API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if port > 0 {
				a.cfg.Server.Port = port
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default: server.port from config)")
	return cmd
}

func (a *app) serve(parent context.Context) error {
	cfg := a.cfg
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("starting query service", "port", cfg.Server.Port, "store", cfg.Store.Backend)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port, reg)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdown(shutdownCtx)
		}()
	}

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	checker := health.NewChecker()
	if p, ok := st.(health.Pinger); ok {
		checker.Register("store", health.PingCheck(p, true))
	} else {
		checker.Register("store", health.Static(health.StatusUp, cfg.Store.Backend))
	}

	redisClient := a.redisClient(ctx)
	if redisClient != nil {
		defer redisClient.Close()
		checker.Register("redis", health.PingCheck(redisClient, false))
		slog.Info("result cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	} else if cfg.Redis.Enabled {
		checker.Register("redis", health.Static(health.StatusDegraded, "unreachable at startup"))
	}

	aggregator := analytics.NewAggregator()
	collector, stopCollector := a.collector(ctx, aggregator, m)
	defer stopCollector()

	var limiter *middleware.Limiter
	if cfg.Server.RateLimit > 0 {
		limiter = middleware.NewLimiter(cfg.Server.RateLimit, time.Minute)
		defer limiter.Close()
	}

	h := handler.New(handler.Deps{
		Executor:  executor.New(st),
		Sets:      st,
		Cache:     a.queryCache(redisClient, m),
		Collector: collector,
		Metrics:   m,
		Tracing:   cfg.Tracing.Enabled,
	}, cfg.Query, cfg.Server.MaxUploadBytes)

	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: server.New(h, analytics.NewHandler(aggregator), checker, server.Options{
			Metrics:     m,
			Limiter:     limiter,
			CORSOrigins: cfg.Server.CORSOrigins,
			Timeout:     cfg.Server.WriteTimeout,
			Logging:     true,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout + time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("query service listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving: %w", err)
	}
	slog.Info("query service stopped")
	return nil
}
