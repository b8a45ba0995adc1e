package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rikpy/shopify-bulk/pkg/client"
	"github.com/rikpy/shopify-bulk/pkg/metrics"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newCacheCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the Redis lookup cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete every cached lookup of the shop",
		Args:  cobra.NoArgs,
		RunE: opts.runWithApp(func(cmd *cobra.Command, a *app, _ []string) error {
			if a.cache == nil {
				return &client.Error{Class: client.ClassUser, Message: "cache purge needs redis.addr"}
			}
			removed, err := a.cache.Purge(cmd.Context(), a.service.Client().Shop())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]int{"removed": removed})
		}),
	})

	return cmd
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"metrics"},
		Short:   "Serve Prometheus metrics and health endpoints",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig(cmd, false)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Metrics.Addr
			}

			redisClient, err := connectRedis(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if redisClient != nil {
				defer redisClient.Close()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, addr, newServeMux(redisClient))
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default metrics.addr)")
	return cmd
}

// newServeMux adds /ready to the metrics mux. A nil Redis client is always ready.
func newServeMux(redisClient *redis.Client) *http.ServeMux {
	mux := metrics.NewMux()
	mux.HandleFunc("/ready", readyHandler(redisClient))
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				log.Warn().Err(err).Msg("Readiness check failed")
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		healthHandler(w, r)
	}
}

// serve runs srv until ctx is done, then shuts it down.
func serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Starting metrics server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return &client.Error{Class: client.ClassTransport, Message: "metrics server on " + addr, Err: err}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	log.Info().Msg("Shutting down metrics server")
	return srv.Shutdown(shutdownCtx)
}
