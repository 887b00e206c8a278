// Package app assembles the configured store, publishers and services.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/blackmichael/social-scheduler/internal/bluesky"
	"github.com/blackmichael/social-scheduler/internal/config"
	"github.com/blackmichael/social-scheduler/internal/domain"
	"github.com/blackmichael/social-scheduler/internal/events"
	"github.com/blackmichael/social-scheduler/internal/gemini"
	"github.com/blackmichael/social-scheduler/internal/postgres"
	"github.com/blackmichael/social-scheduler/internal/sqlite"
	"github.com/blackmichael/social-scheduler/internal/twitter"
)

// Store is a repository for posts and auth requests.
type Store interface {
	domain.PostRepository
	domain.AuthRequestRepository
	Close() error
}

// App holds the wired components.
type App struct {
	Store   Store
	Service *domain.PublicationService

	// Auth is nil unless Twitter OAuth is configured.
	Auth *domain.AuthService

	Events *events.Hub
}

// OpenStore picks SQLite for sqlite:// URLs and PostgreSQL otherwise.
func OpenStore(ctx context.Context, databaseURL string) (Store, error) {
	cfg := config.Config{DatabaseURL: databaseURL}
	if path, ok := cfg.SQLitePath(); ok {
		repo, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, err
		}
		return repo, nil
	}

	repo, err := postgres.NewRepository(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

// New opens the store and builds the services from cfg. The caller must
// Close the returned App.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	store, err := OpenStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	publishers := []domain.Publisher{
		bluesky.NewPublisher(
			bluesky.NewClient(cfg.Bluesky.PDS, cfg.CallTimeout),
			cfg.Bluesky.Handle,
			cfg.Bluesky.AppPassword,
			cfg.Bluesky.MaxLength,
			cfg.Bluesky.WritesPerSecond,
		),
		twitter.NewPublisher(
			twitter.NewClient(cfg.Twitter.APIURL, cfg.CallTimeout),
			cfg.Twitter.BearerToken,
			cfg.Twitter.MaxLength,
		),
	}

	hub := events.NewHub(logger, 0)
	opts := []domain.ServiceOption{domain.WithEventSink(hub)}

	if cfg.Gemini.APIKey != "" {
		gen, err := gemini.NewGenerator(ctx, gemini.Config{APIKey: cfg.Gemini.APIKey, Model: cfg.Gemini.Model}, logger)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("create generator: %w", err)
		}
		opts = append(opts, domain.WithGenerator(gen))
	} else {
		logger.Warn("GEMINI_API_KEY not set, generation routes are disabled")
	}

	svc, err := domain.NewPublicationService(store, publishers, cfg.Scheduler.Targets, logger, opts...)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create publication service: %w", err)
	}

	a := &App{Store: store, Service: svc, Events: hub}
	if cfg.OAuthEnabled() {
		provider := twitter.NewOAuth(cfg.Twitter.ClientID, cfg.Twitter.ClientSecret, cfg.Twitter.RedirectURL, twitter.Endpoint)
		a.Auth = domain.NewAuthService(store, provider, cfg.AuthRequestTTL, logger)
	}
	return a, nil
}

// Close releases the store.
func (a *App) Close() error {
	return a.Store.Close()
}
