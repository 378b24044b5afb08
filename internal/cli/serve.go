package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ogulcanaydogan/bi-sentinel/internal/prompts"
	"github.com/ogulcanaydogan/bi-sentinel/internal/proxy"
	"github.com/ogulcanaydogan/bi-sentinel/internal/realtime"
	"github.com/ogulcanaydogan/bi-sentinel/internal/server"
	"github.com/ogulcanaydogan/bi-sentinel/pkg/tokenizer"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API, budget-alert WebSocket and analysis functions server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("listen", "l", "", "Listen address (default from config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	listen, _ := cmd.Flags().GetString("listen")
	if listen != "" {
		cfg.Server.Listen = listen
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eval, store, err := initEvaluator(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	authenticator, err := initAuthenticator(cfg)
	if err != nil {
		return err
	}

	catalog, err := prompts.Load(cfg.Prompts.Path)
	if err != nil {
		return err
	}

	gateways, err := initGateways(ctx, cfg)
	if err != nil {
		return err
	}
	gw, err := gateways.Default()
	if err != nil {
		return err
	}

	hub := realtime.NewHub()
	realtimeHandler := realtime.NewHandler(authenticator, eval, hub, realtime.Config{
		Interval:       cfg.Realtime.Interval,
		WriteWait:      cfg.Realtime.WriteWait,
		PongWait:       cfg.Realtime.PongWait,
		SendBuffer:     cfg.Realtime.SendBuffer,
		AllowedOrigins: cfg.Realtime.AllowedOrigins,
	}, logger.With("component", "realtime"))

	functions := proxy.NewHandler(catalog, gw, tokenizer.NewCounter(), store, proxy.Options{
		MaxBodySize:     cfg.Server.MaxBodySize,
		MaxPromptTokens: cfg.Gateway.MaxPromptTokens,
		Timeout:         cfg.Gateway.Timeout,
		Temperature:     cfg.Gateway.Temperature,
	}, logger.With("component", "functions"))

	api := server.NewServer(server.Deps{
		Store:                store,
		Evaluator:            eval,
		Verifier:             authenticator,
		Hub:                  hub,
		Realtime:             realtimeHandler,
		Functions:            functions,
		RequireFunctionsAuth: cfg.Auth.RequireForFunctions,
	}, logger)

	srv := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      api.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server started",
			"listen", cfg.Server.Listen,
			"gateway", gw.Name(),
			"model", gw.Model(),
			"functions", len(catalog.Functions),
		)
		fmt.Fprintf(os.Stderr, "BI Sentinel listening on %s\n", cfg.Server.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "websocket_sessions", hub.Stats().Connections)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Hijacked WebSocket connections are not tracked by srv.Shutdown.
		if err := hub.Shutdown(shutdownCtx); err != nil {
			logger.Warn("realtime shutdown incomplete", "error", err)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("server stopped")
	return nil
}
