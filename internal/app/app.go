// Package app assembles the assistant runtime from configuration
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/secassist/internal/api"
	"github.com/Rrens/secassist/internal/api/handler"
	"github.com/Rrens/secassist/internal/config"
	"github.com/Rrens/secassist/internal/llm"
	"github.com/Rrens/secassist/internal/repository"
	"github.com/Rrens/secassist/internal/repository/redis"
	"github.com/Rrens/secassist/internal/security"
	"github.com/Rrens/secassist/internal/service"
	"github.com/Rrens/secassist/internal/session"
)

// App holds the long-lived components shared by the server and the CLI
type App struct {
	Config        *config.Config
	Keys          *security.KeyStore
	Providers     *llm.Router
	Redis         *redis.Client
	Store         *session.Store
	Runner        *service.Runner
	Events        *handler.EventHub
	Chat          *service.ChatService
	Fixes         *service.FixService
	Confirmations *service.PendingConfirmations
}

// New connects storage and builds the services
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	keys, err := OpenKeyStore(cfg.Keystore)
	switch {
	case errors.Is(err, security.ErrNoPassphrase):
		log.Warn().Msg("Keystore passphrase not set, only environment credentials are used")
	case err != nil:
		return nil, err
	default:
		a.Keys = keys
	}

	var secrets SecretSource
	if a.Keys != nil {
		secrets = a.Keys
	}
	a.Providers = NewProviderRouter(cfg.LLM, secrets)

	if cfg.Redis.Enabled {
		a.Redis, err = redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
	}

	persister, err := repository.OpenPersister(ctx, cfg.Storage, a.Redis)
	if err != nil {
		a.closeRedis()
		return nil, err
	}

	a.Store, err = session.NewStore(ctx, persister, session.Options{
		FlushDelay:  cfg.Storage.FlushDelay,
		SaveTimeout: cfg.Storage.SaveTimeout,
	})
	if err != nil {
		_ = persister.Close()
		a.closeRedis()
		return nil, err
	}

	a.Runner = service.NewRunner()
	a.Events = handler.NewEventHub()
	notifier := service.MultiNotifier{service.LogNotifier{}, a.Events}

	a.Chat = service.NewChatService(a.Store, a.Providers, notifier, a.Runner)
	a.Fixes = service.NewFixService(a.Store, a.Providers, notifier, a.Runner, service.FixConfig{
		MaxAttempts:      cfg.Agent.MaxAttempts,
		ContextPadding:   cfg.Agent.ContextPadding,
		ProposerProvider: cfg.Agent.ProposerProvider,
		ApprovalProvider: cfg.Agent.ApprovalProvider,
	})
	a.Confirmations = service.NewPendingConfirmations(a.Store)

	return a, nil
}

// OpenKeyStore opens the provider keystore named by cfg
func OpenKeyStore(cfg config.KeystoreConfig) (*security.KeyStore, error) {
	keys, err := security.OpenKeyStore(cfg.Path, cfg.Passphrase)
	if err != nil {
		if errors.Is(err, security.ErrNoPassphrase) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to open keystore %s: %w", cfg.Path, err)
	}
	return keys, nil
}

// Handler builds the HTTP adapter over the app's components
func (a *App) Handler() http.Handler {
	deps := api.Dependencies{
		Config:        a.Config,
		Store:         a.Store,
		Providers:     a.Providers,
		Chat:          a.Chat,
		Fixes:         a.Fixes,
		Confirmations: a.Confirmations,
		Events:        a.Events,
	}
	if a.Config.Auth.JWTSecret != "" {
		deps.JWT = security.NewJWTManager(a.Config.Auth.JWTSecret, a.Config.Auth.TokenTTL)
	}
	if a.Redis != nil {
		deps.RateLimiter = redis.NewRateLimiter(
			a.Redis,
			a.Config.Security.RateLimit.RequestsPerMinute,
			a.Config.Security.RateLimit.Burst,
		)
	}
	return api.NewRouter(deps)
}

// Close stops running requests, then flushes and closes storage
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.Runner.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("runner shutdown: %w", err))
	}
	if err := a.Store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}
	a.closeRedis()
	return errors.Join(errs...)
}

func (a *App) closeRedis() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close redis client")
		}
	}
}
