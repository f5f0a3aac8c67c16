package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/suPer8Hu/support-widget/internal/ai"
	"github.com/suPer8Hu/support-widget/internal/chat"
	"github.com/suPer8Hu/support-widget/internal/config"
	"github.com/suPer8Hu/support-widget/internal/conversation"
	"github.com/suPer8Hu/support-widget/internal/db"
	"github.com/suPer8Hu/support-widget/internal/httpapi"
	"github.com/suPer8Hu/support-widget/internal/httpapi/handlers"
	"github.com/suPer8Hu/support-widget/internal/logging"
	"github.com/suPer8Hu/support-widget/internal/reconcile"
	"github.com/suPer8Hu/support-widget/internal/store/rabbitmq"
	"github.com/suPer8Hu/support-widget/internal/store/redisstore"
	"github.com/suPer8Hu/support-widget/internal/widget"
)

func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.LogConsole)
	gin.SetMode(gin.ReleaseMode)

	gdb := db.Connect(cfg.DBDSN)
	repo := chat.NewRepo(gdb)

	settings, err := config.LoadWidgetSettings(cfg.WidgetSettingsPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load widget settings")
	}
	if settings == nil {
		log.Warn().Msg("no widget settings configured, conversations run without limits")
	}

	stores, closeStores := persistence(cfg, repo)
	defer closeStores()

	sink, closeSink := transitionSink(cfg, repo)
	defer closeSink()

	reg := providers(cfg)
	if !slices.Contains(reg.Names(), strings.ToLower(strings.TrimSpace(cfg.AIProvider))) {
		log.Fatal().Str("provider", cfg.AIProvider).Strs("registered", reg.Names()).Msg("unsupported AI_PROVIDER")
	}
	svc := widget.NewService(reg, cfg.AIProvider, cfg.AIModel, cfg.ChatContextWindowSize)

	mgr := widget.NewManager(widget.Config{
		Service:  svc,
		Logger:   sink,
		Settings: settings,
		Reconcile: reconcile.Options{
			Debounce:            cfg.ReconcileDebounce,
			DependencyDelay:     cfg.ReconcileDependencyDelay,
			Interval:            cfg.ReconcileInterval,
			Cooldown:            cfg.ReconcileCooldown,
			CorruptionThreshold: cfg.CorruptionThreshold,
		},
	}, stores, repo)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(handlers.NewHandler(cfg, mgr, repo)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).
			Str("persistence", cfg.PersistenceBackend).
			Str("transition_sink", cfg.TransitionSink).
			Str("ai_provider", cfg.AIProvider).
			Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("api shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	mgr.CloseAll(shutdownCtx)
}

// providers registers every automated-reply backend. The conversation-wide
// provider is picked by AI_PROVIDER.
func providers(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()

	reg.Register("static", func(ctx context.Context, model string) (ai.Provider, error) {
		return ai.StaticProvider{Reply: cfg.StaticReply}, nil
	})

	reg.Register("ollama", func(ctx context.Context, model string) (ai.Provider, error) {
		m := strings.TrimSpace(model)
		if m == "" || m == "default" {
			m = cfg.OllamaModel
		}
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, m), nil
	})

	reg.Register("openrouter", func(ctx context.Context, model string) (ai.Provider, error) {
		m := strings.TrimSpace(model)
		if m == "" || m == "default" {
			m = cfg.OpenRouterModel
		}
		return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, m,
			cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})
	return reg
}

func persistence(cfg config.Config, repo *chat.Repo) (widget.StoreFactory, func()) {
	switch cfg.PersistenceBackend {
	case "redis":
		client := redisstore.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis ping")
		}
		store := redisstore.New(client, cfg.SnapshotTTL)
		return func(id string) reconcile.Persistence { return store.ForConversation(id) },
			func() { _ = client.Close() }
	case "", "db":
		return func(id string) reconcile.Persistence { return repo.ForConversation(id) }, func() {}
	default:
		log.Fatal().Str("backend", cfg.PersistenceBackend).Msg("unsupported PERSISTENCE_BACKEND")
		return nil, nil
	}
}

func transitionSink(cfg config.Config, repo *chat.Repo) (conversation.TransitionLogger, func()) {
	switch cfg.TransitionSink {
	case "rabbit", "rabbitmq":
		pub, err := rabbitmq.Dial(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Fatal().Err(err).Msg("rabbit dial")
		}
		return pub, func() { _ = pub.Close() }
	case "", "db":
		return chat.NewTransitionSink(repo), func() {}
	default:
		log.Fatal().Str("sink", cfg.TransitionSink).Msg("unsupported TRANSITION_SINK")
		return nil, nil
	}
}
