package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	historystore "github.com/thatwebagency/ha-superloop/internal/adapters/history"
	statusadapter "github.com/thatwebagency/ha-superloop/internal/adapters/render/status"
	tomlrepo "github.com/thatwebagency/ha-superloop/internal/adapters/repo/toml"
	chainstore "github.com/thatwebagency/ha-superloop/internal/adapters/secrets/chain"
	vaultstore "github.com/thatwebagency/ha-superloop/internal/adapters/secrets/vault"
	"github.com/thatwebagency/ha-superloop/internal/adapters/superloop"
	"github.com/thatwebagency/ha-superloop/internal/application"
	"github.com/thatwebagency/ha-superloop/internal/domain"
	"github.com/thatwebagency/ha-superloop/internal/ports"
)

type app struct {
	repo           ports.AccountRepository
	secretStore    ports.SecretStore
	client         *superloop.Client
	statusRenderer func([]statusadapter.Status, statusadapter.RenderOptions) (string, error)
	browserLogin   browserLoginConfig
	historyPath    string
	pollInterval   time.Duration
	clock          ports.Clock
	logger         *slog.Logger
	now            func() time.Time
}

type browserLoginConfig struct {
	PortalURL  string
	ListenAddr string
	Timeout    time.Duration
}

func wireApp() (*app, error) {
	repo, err := tomlrepo.NewRepository(viper.New())
	if err != nil {
		return nil, fmt.Errorf("wire account repository: %w", err)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	secretStore, err := chainstore.NewVaultFirstWithFileFallback(
		filepath.Join(homeDir, ".superloop", "secrets"),
		vaultstore.Options{},
	)
	if err != nil {
		return nil, fmt.Errorf("wire secret store chain: %w", err)
	}

	client := superloop.NewClient(superloop.Config{
		BaseURL:     envOrDefault("SUPERLOOP_API_BASE_URL", superloop.DefaultBaseURL),
		JWTLoginURL: envOrDefault("SUPERLOOP_JWT_LOGIN_URL", superloop.DefaultJWTLoginURL),
	})

	pollInterval := application.DefaultPollInterval
	if raw := os.Getenv("SUPERLOOP_POLL_INTERVAL"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("parse SUPERLOOP_POLL_INTERVAL: %w", err)
		}
		pollInterval = parsed
	}

	return &app{
		repo:           repo,
		secretStore:    secretStore,
		client:         client,
		statusRenderer: statusadapter.Render,
		browserLogin: browserLoginConfig{
			PortalURL:  envOrDefault("SUPERLOOP_PORTAL_URL", ""),
			ListenAddr: envOrDefault("SUPERLOOP_CALLBACK_LISTEN", "127.0.0.1:0"),
			Timeout:    5 * time.Minute,
		},
		historyPath:  filepath.Join(homeDir, ".superloop", "usage.db"),
		pollInterval: pollInterval,
		clock:        ports.SystemClock{},
		logger:       slog.New(slog.NewTextHandler(os.Stderr, nil)),
		now:          time.Now,
	}, nil
}

// resolveAccount returns the account for an explicit id, or the only
// configured account when the id is empty.
func (a *app) resolveAccount(ctx context.Context, id string) (domain.Account, error) {
	if id != "" {
		return a.repo.GetByID(ctx, domain.AccountID(id))
	}

	accounts, err := a.repo.List(ctx)
	if err != nil {
		return domain.Account{}, err
	}
	switch len(accounts) {
	case 0:
		return domain.Account{}, fmt.Errorf("%w: no accounts configured, run login first", domain.ErrAccountNotFound)
	case 1:
		return accounts[0], nil
	default:
		return domain.Account{}, errors.New("multiple accounts configured, pass --account")
	}
}

// sessionManagerFor rebuilds the login state machine for a stored account
// from its persisted credentials and refresh token. Rotated refresh tokens
// are written back to the secret store.
func (a *app) sessionManagerFor(ctx context.Context, account domain.Account) (*application.SessionManager, error) {
	blob, err := a.secretStore.Get(ctx, account.SecretRef)
	if err != nil {
		return nil, fmt.Errorf("load credentials for account %s: %w", account.ID, err)
	}
	creds, err := application.DecodeCredentials(blob)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", account.ID, err)
	}

	refreshToken := ""
	if account.RefreshSecretRef != "" {
		if value, err := a.secretStore.Get(ctx, account.RefreshSecretRef); err == nil {
			refreshToken = value
		}
	}

	refreshRef := account.RefreshSecretRef
	return application.NewSessionManager(a.client, application.SessionManagerOptions{
		Credentials:  creds,
		RefreshToken: refreshToken,
		CustomerID:   account.CustomerID,
		Clock:        a.clock,
		Logger:       a.logger,
		OnRefreshToken: func(ctx context.Context, token string) error {
			if refreshRef == "" {
				return nil
			}
			return a.secretStore.Put(ctx, refreshRef, token)
		},
	}), nil
}

func (a *app) fetcherFor(ctx context.Context, account domain.Account) (*application.Fetcher, error) {
	manager, err := a.sessionManagerFor(ctx, account)
	if err != nil {
		return nil, err
	}

	return application.NewFetcher(manager, a.client), nil
}

func (a *app) coordinatorFor(ctx context.Context, account domain.Account) (*application.Coordinator, error) {
	fetcher, err := a.fetcherFor(ctx, account)
	if err != nil {
		return nil, err
	}

	return application.NewCoordinator(fetcher, application.CoordinatorOptions{
		Interval: a.pollInterval,
		Clock:    a.clock,
		Logger:   a.logger,
	}), nil
}

func (a *app) openHistoryStore() (*historystore.Store, error) {
	store, err := historystore.Open(a.historyPath)
	if err != nil {
		return nil, fmt.Errorf("open usage history store: %w", err)
	}

	return store, nil
}

// rememberServiceID pins the service discovered by a refresh onto the
// account record so later history commands need no extra fetch.
func (a *app) rememberServiceID(ctx context.Context, account domain.Account, serviceID string) {
	if serviceID == "" || account.ServiceID == serviceID {
		return
	}
	account.ServiceID = serviceID
	if err := a.repo.Save(ctx, account); err != nil {
		a.logger.Warn("persist discovered service id", "account", account.ID, "error", err)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
