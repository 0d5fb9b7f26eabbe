package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MrEthical07/goAccess/httpapi"
	"github.com/MrEthical07/goAccess/storepg"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

func newServeCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the record sweeper",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), v)
		},
	}

	flags := cmd.Flags()
	flags.String("listen", ":8080", "HTTP listen address")
	flags.String("subject-header", "X-Authenticated-Email", "request header carrying the signed-in user, set by the authenticating proxy")
	flags.Duration("shutdown-timeout", 10*time.Second, "grace period for in-flight requests on shutdown")
	bindFlags(v, flags)
	return cmd
}

func runServe(ctx context.Context, v *viper.Viper) error {
	logger := newLogger(v)
	rt, err := openRuntime(ctx, v, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	report := rt.engine.SecurityReport()
	logger.Info().
		Bool("production", report.ProductionMode).
		Str("signing", report.SigningAlgorithm).
		Str("issuer", report.Issuer).
		Dur("access_token_ttl", report.AccessTokenTTL).
		Str("rate_limit_backend", string(report.RateLimitBackend)).
		Bool("wildcard_api_keys", report.WildcardAPIKeys).
		Int("api_key_permissions", report.APIKeyPermissions).
		Bool("audit", report.AuditEnabled).
		Msg("security report")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if rt.pool != nil {
		storepg.RegisterPoolMetrics(reg, rt.pool)
	}

	handler := httpapi.NewServer(rt.engine, httpapi.Options{
		Logger:   logger,
		Subject:  httpapi.HeaderSubject(v.GetString("subject-header")),
		Registry: reg,
		Ready: func(ctx context.Context) error {
			if err := rt.redis.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			if rt.pool != nil {
				if err := rt.pool.Ping(ctx); err != nil {
					return fmt.Errorf("database: %w", err)
				}
			}
			return nil
		},
	})

	srv := &http.Server{
		Addr:              v.GetString("listen"),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("accessd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		err := rt.engine.RunSweeper(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), v.GetDuration("shutdown-timeout"))
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown failed")
		}
		return nil
	})

	err = g.Wait()
	logger.Info().Msg("accessd stopped")
	return err
}
