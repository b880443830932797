// Package main is the entry point for the API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/capitalize-ai/voice-orchestrator/internal/config"
	"github.com/capitalize-ai/voice-orchestrator/internal/errorhandling"
	"github.com/capitalize-ai/voice-orchestrator/internal/handler"
	"github.com/capitalize-ai/voice-orchestrator/internal/history"
	"github.com/capitalize-ai/voice-orchestrator/internal/llm"
	natsclient "github.com/capitalize-ai/voice-orchestrator/internal/nats"
	"github.com/capitalize-ai/voice-orchestrator/internal/queue"
	"github.com/capitalize-ai/voice-orchestrator/internal/ratelimit"
	"github.com/capitalize-ai/voice-orchestrator/internal/recovery"
	"github.com/capitalize-ai/voice-orchestrator/internal/service"
	"github.com/capitalize-ai/voice-orchestrator/internal/storage"
	"github.com/capitalize-ai/voice-orchestrator/pkg/logger"
	"github.com/capitalize-ai/voice-orchestrator/pkg/tracing"
)

const serviceName = "voice-orchestrator"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewForEnv(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("Server exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	log.Info("Starting API server", zap.String("environment", cfg.Environment))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, serviceName, cfg.TracingEndpoint)
		if err != nil {
			log.Warn("Failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	// The registry reports failing actions to the service and the service
	// attaches the registry's actions, so the sink is set after both exist.
	registry := recovery.NewRegistry(recovery.Deps{
		Cache:  store,
		Logger: log,
	})
	errs := errorhandling.NewService(errorhandling.Config{
		Store:    store,
		Registry: registry,
		Logger:   log,
		LogLimit: cfg.ErrorLogLimit,
	})
	registry.SetSink(errs)
	if err := errs.Load(ctx); err != nil {
		log.Warn("Starting with empty error metrics", zap.Error(err))
	}

	var events handler.ConnectionChecker
	if cfg.NATSEnabled {
		nc, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer nc.Close()

		if err := natsclient.EnsureStream(ctx, nc.JetStream()); err != nil {
			return fmt.Errorf("ensure error event stream: %w", err)
		}
		sink := natsclient.NewEventSink(nc.JetStream(), log)
		errs.Subscribe(sink.Listener())
		events = nc
	}

	completion, transcription := newClients(cfg, log)

	hist, err := history.NewStore(cfg.MaxConversations, cfg.MaxStoredTurns)
	if err != nil {
		return err
	}

	chatQueue := newQueue(ctx, "completion", cfg, ratelimit.Limits{
		RequestsPerMinute: cfg.RequestsPerMinute,
		TokensPerMinute:   cfg.TokensPerMinute,
	}, errs, log)
	defer chatQueue.Close()

	sttQueue := newQueue(ctx, "transcription", cfg, ratelimit.Limits{
		RequestsPerMinute: cfg.TranscriptionRequestsPerMinute,
	}, errs, log)
	defer sttQueue.Close()

	conversations := service.NewConversationService(hist, errs, log)
	chat := service.NewChatService(hist, chatQueue, completion, errs, service.ChatConfig{
		MaxContextMessages: cfg.MaxContextMessages,
		MaxContextTokens:   cfg.MaxContextTokens,
		DefaultModel:       cfg.DefaultModel,
	}, log)
	transcriber := service.NewTranscriptionService(sttQueue, transcription, store, errs, cfg.MaxUploadBytes, log)

	server := &http.Server{
		Addr: ":" + cfg.ServerPort,
		Handler: newRouter(routerDeps{
			cfg:           cfg,
			log:           log,
			conversations: conversations,
			chat:          chat,
			transcriber:   transcriber,
			errors:        errs,
			events:        events,
			queues:        []*queue.Queue{chatQueue, sttQueue},
		}),
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	// Deferred closes run in reverse: queues reject pending work with
	// CANCELLED before NATS, storage and the tracer go away.
	log.Info("Server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.StorageBackend {
	case config.StorageSQLite:
		return storage.NewSQLiteStore(storage.SQLiteConfig{Path: cfg.SQLitePath})
	case config.StorageRedis:
		return storage.NewRedisStore(ctx, storage.RedisConfig{
			URL:      cfg.RedisURL,
			Password: cfg.RedisPassword,
			Prefix:   cfg.RedisPrefix,
		})
	default:
		return storage.NewMemoryStore(), nil
	}
}

// newClients builds the instrumented provider clients. A missing key does
// not stop the server: calls fail as API_INVALID_KEY until it is set.
func newClients(cfg *config.Config, log *logger.Logger) (llm.CompletionClient, llm.TranscriptionClient) {
	var completion llm.CompletionClient
	switch llm.Provider(cfg.DefaultLLM) {
	case llm.ProviderAnthropic:
		c, err := llm.NewAnthropicClientWithConfig(cfg.AnthropicAPIKey, cfg.AnthropicBaseURL)
		if err != nil {
			log.Warn("Anthropic client unavailable", zap.Error(err))
			completion = &llm.MissingKeyClient{Provider: llm.ProviderAnthropic}
		} else {
			completion = c
		}
	default:
		c, err := llm.NewOpenAIClientWithConfig(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
		if err != nil {
			log.Warn("OpenAI client unavailable", zap.Error(err))
			completion = &llm.MissingKeyClient{Provider: llm.ProviderOpenAI}
		} else {
			completion = c
		}
	}

	var transcription llm.TranscriptionClient
	if c, err := llm.NewOpenAIClientWithConfig(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL); err != nil {
		log.Warn("Transcription client unavailable", zap.Error(err))
		transcription = &llm.MissingKeyClient{Provider: llm.ProviderOpenAI}
	} else {
		transcription = c
	}

	return llm.WithMetrics(llm.WithTimeout(completion, cfg.RequestTimeout)),
		llm.TranscriptionWithMetrics(llm.TranscriptionWithTimeout(transcription, cfg.RequestTimeout))
}

func newQueue(ctx context.Context, name string, cfg *config.Config, limits ratelimit.Limits, errs *errorhandling.Service, log *logger.Logger) *queue.Queue {
	var governor *ratelimit.Governor
	if limits.RequestsPerMinute > 0 || limits.TokensPerMinute > 0 {
		governor = ratelimit.NewGovernor(limits, nil)
	}

	q := queue.New(queue.Config{
		Name:       name,
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.BaseDelay,
	}, governor,
		queue.WithReporter(errs),
		queue.WithLogger(log),
		queue.WithTracer(tracing.Tracer(serviceName)),
	)
	q.Start(ctx)
	return q
}
