// Command ledgersync runs the financial-statement spreadsheet update agent
// as an HTTP service: it accepts a batch of tickers (spec.md §6) and, for
// each one, drives the per-ticker agent orchestrator (spec.md §4.5).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/ternarybob/arbor"

	"github.com/kestrelfin/ledgersync/internal/common"
	"github.com/kestrelfin/ledgersync/internal/interfaces"
	"github.com/kestrelfin/ledgersync/internal/server"
	"github.com/kestrelfin/ledgersync/internal/services/agent"
	"github.com/kestrelfin/ledgersync/internal/services/browser"
	"github.com/kestrelfin/ledgersync/internal/services/llm"
	"github.com/kestrelfin/ledgersync/internal/services/objectstore"
	"github.com/kestrelfin/ledgersync/internal/services/spreadsheet"
	"github.com/kestrelfin/ledgersync/internal/services/vision"
	"github.com/kestrelfin/ledgersync/internal/services/websearch"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file (optional; env vars always override)")
	flag.Parse()

	_ = godotenv.Load() // best-effort; absent .env is not an error

	var paths []string
	if *configPath != "" {
		paths = append(paths, *configPath)
	}
	cfg, err := common.LoadConfig(paths...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	logger := common.SetupLogger(cfg)

	logger.Info().
		Str("version", common.GetFullVersion()).
		Str("environment", cfg.Environment).
		Msg("ledgersync starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := buildServer(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)).
		Msg("ledgersync ready")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("ledgersync stopped")
}

// buildServer resolves secrets and wires every collaborator into the
// orchestrator and ingress server.
func buildServer(ctx context.Context, cfg *common.Config, logger arbor.ILogger) (*server.Server, error) {
	objectStoreKey, err := common.ResolveSecret("LEDGERSYNC_OBJECTSTORE_SERVICE_KEY", cfg.ObjectStore.ServiceKey)
	if err != nil {
		return nil, err
	}
	claudeKey, err := common.ResolveSecret("ANTHROPIC_API_KEY", cfg.Claude.APIKey)
	if err != nil {
		return nil, err
	}
	geminiKey, err := common.ResolveSecret("LEDGERSYNC_GEMINI_API_KEY", cfg.Gemini.APIKey)
	if err != nil {
		return nil, err
	}
	browserEmail, err := common.ResolveSecret("LEDGERSYNC_BROWSER_EMAIL", cfg.Browser.Email)
	if err != nil {
		return nil, err
	}
	browserPassword, err := common.ResolveSecret("LEDGERSYNC_BROWSER_PASSWORD", cfg.Browser.Password)
	if err != nil {
		return nil, err
	}
	callbackToken, err := common.ResolveSecret("LEDGERSYNC_CALLBACK_TOKEN", cfg.Callback.BearerToken)
	if err != nil {
		return nil, err
	}

	callTimeout := common.ParseDurationOrDefault(cfg.Agent.CallTimeout, 30*time.Second)
	claudeTimeout := common.ParseDurationOrDefault(cfg.Claude.Timeout, 60*time.Second)
	geminiTimeout := common.ParseDurationOrDefault(cfg.Gemini.Timeout, 30*time.Second)
	callbackTimeout := common.ParseDurationOrDefault(cfg.Callback.Timeout, 30*time.Second)
	navTimeout := common.ParseDurationOrDefault(cfg.Browser.NavTimeout, 30*time.Second)
	rateLimitEvery := common.ParseDurationOrDefault(cfg.Browser.RateLimitEvery, time.Second)

	store := objectstore.New(cfg.ObjectStore.PublicBaseURL, cfg.ObjectStore.AuthBaseURL, objectStoreKey, callTimeout, logger)
	loader := spreadsheet.NewLoader()

	visionClient := vision.New(claudeKey, cfg.Claude.VisionModel, cfg.Claude.MaxTokens, claudeTimeout, logger)

	searchClient, err := websearch.New(ctx, geminiKey, cfg.Gemini.Model, geminiTimeout, logger)
	if err != nil {
		return nil, fmt.Errorf("creating web-search client: %w", err)
	}

	llmProvider := llm.NewProvider(claudeKey, cfg.Claude.Model, cfg.Claude.MaxTokens, float32(cfg.Claude.Temperature), claudeTimeout, logger)

	browserCfg := browser.Config{
		BaseURL:        cfg.Browser.BaseURL,
		LoginPath:      cfg.Browser.LoginPath,
		Email:          browserEmail,
		Password:       browserPassword,
		Headless:       cfg.Browser.Headless,
		NavTimeout:     navTimeout,
		RateLimitEvery: rateLimitEvery,
	}
	browserFactory := agent.BrowserFactory(func() interfaces.BrowserSession {
		return browser.New(browserCfg, logger)
	})

	callbackPoster := agent.NewCallbackPoster(callbackToken, callbackTimeout, logger)
	statusHub := server.NewStatusHub()

	orchestrator := agent.NewOrchestrator(
		store,
		loader,
		browserFactory,
		visionClient,
		searchClient,
		llmProvider,
		callbackPoster,
		statusHub,
		cfg.Agent,
		logger,
	)

	ingress := server.NewIngressHandler(orchestrator, cfg.Ingress.MaxConcurrency, logger)
	return server.New(cfg, logger, ingress, statusHub), nil
}
