// Command server starts the AI gateway HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"log/slog"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/prxatt/kiro-ai-gateway/internal/adapter/ai"
	"github.com/prxatt/kiro-ai-gateway/internal/adapter/ai/anthropic"
	"github.com/prxatt/kiro-ai-gateway/internal/adapter/ai/gemini"
	"github.com/prxatt/kiro-ai-gateway/internal/adapter/ai/openai"
	"github.com/prxatt/kiro-ai-gateway/internal/adapter/ai/perplexity"
	"github.com/prxatt/kiro-ai-gateway/internal/adapter/ai/tokencount"
	"github.com/prxatt/kiro-ai-gateway/internal/adapter/httpserver"
	"github.com/prxatt/kiro-ai-gateway/internal/adapter/observability"
	"github.com/prxatt/kiro-ai-gateway/internal/adapter/queue/redpanda"
	"github.com/prxatt/kiro-ai-gateway/internal/adapter/repo/postgres"
	"github.com/prxatt/kiro-ai-gateway/internal/app"
	"github.com/prxatt/kiro-ai-gateway/internal/config"
	"github.com/prxatt/kiro-ai-gateway/internal/domain"
	"github.com/prxatt/kiro-ai-gateway/internal/service/msgvault"
	"github.com/prxatt/kiro-ai-gateway/internal/service/pricing"
	"github.com/prxatt/kiro-ai-gateway/internal/service/profilecache"
	"github.com/prxatt/kiro-ai-gateway/internal/service/respcache"
	"github.com/prxatt/kiro-ai-gateway/internal/usecase"
	"github.com/prxatt/kiro-ai-gateway/pkg/cryptobox"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	profileRepo := postgres.NewProfileRepo(pool)
	usageRepo := postgres.NewUsageRepo(pool)

	catalog, err := cfg.LoadCatalog()
	if err != nil {
		slog.Error("model catalog load failed", slog.Any("error", err))
		os.Exit(1)
	}

	// Response cache: shared Redis when configured, in-process otherwise.
	var (
		respCache  domain.ResponseCache
		redisCheck func(context.Context) error
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		respCache = respcache.NewRedis(rdb)
		redisCheck = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		defer func() { _ = rdb.Close() }()
	} else {
		respCache = respcache.NewMemory()
	}

	adapters := map[string]domain.ProviderAdapter{
		domain.ProviderOpenAI:     openai.New(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.ProviderTimeout),
		domain.ProviderAnthropic:  anthropic.New(cfg.AnthropicAPIKey, cfg.AnthropicBaseURL, cfg.ProviderTimeout),
		domain.ProviderGemini:     gemini.New(cfg.GeminiAPIKey, cfg.GeminiBaseURL, cfg.ProviderTimeout),
		domain.ProviderPerplexity: perplexity.New(cfg.PerplexityAPIKey, cfg.PerplexityBaseURL, cfg.ProviderTimeout),
	}
	executor := ai.NewExecutor(adapters, catalog)

	var publisher domain.UsagePublisher
	if len(cfg.KafkaBrokers) > 0 {
		pub, err := redpanda.NewPublisher(cfg.KafkaBrokers, cfg.UsageTopic)
		if err != nil {
			slog.Error("redpanda connect failed, usage events disabled", slog.Any("error", err))
		} else {
			publisher = pub
			defer pub.Close()
		}
	}

	counter := tokencount.NewCounter()
	profiles := profilecache.New(profileRepo, cfg.ProfileCacheTTL)
	limits := usecase.BudgetLimits{
		MonthlyCents:    cfg.MonthlyBudgetCents,
		FreeCreditCents: cfg.FreeCreditCents,
	}
	dispatcher := usecase.NewDispatcher(
		profiles,
		profileRepo,
		respCache,
		usecase.NewSelector(catalog, counter, cfg.FreeTierDiversionPercent),
		usecase.NewBudgeter(usageRepo, catalog, limits),
		executor,
		pricing.NewTable(catalog),
		counter,
		usecase.NewLedger(usageRepo, publisher),
		cfg.MaxTokensPerRequest,
	)

	var vault *msgvault.Vault
	if cfg.MessageSecret != "" {
		box, err := cryptobox.New(cfg.MessageSecret)
		if err != nil {
			slog.Error("message vault setup failed", slog.Any("error", err))
			os.Exit(1)
		}
		vault = msgvault.New(postgres.NewMessageRepo(pool), box)
		dispatcher.WithVault(vault)
	}

	srv := &httpserver.Server{
		Cfg:        cfg,
		Dispatcher: dispatcher,
		Profiles:   profiles,
		Usage:      usageRepo,
		Vault:      vault,
		DBCheck:    pool.Ping,
		RedisCheck: redisCheck,
	}

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      app.BuildRouter(cfg, srv),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	go func() {
		slog.Info("server listening", slog.Int("port", cfg.Port), slog.String("env", cfg.AppEnv))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", slog.Any("error", err))
	}
}
