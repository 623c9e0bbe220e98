package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/thatwebagency/ha-superloop/internal/adapters/superloop"
	"github.com/thatwebagency/ha-superloop/internal/domain"
	"github.com/thatwebagency/ha-superloop/internal/ports"
)

type SessionState string

const (
	StateUnauthenticated   SessionState = "unauthenticated"
	StateAwaitingTwoFactor SessionState = "awaiting_two_factor"
	StateAuthenticated     SessionState = "authenticated"
)

// TokenSink receives rotated refresh tokens so they survive restarts.
type TokenSink func(ctx context.Context, refreshToken string) error

type SessionManagerOptions struct {
	Credentials    domain.Credentials
	RefreshToken   string
	CustomerID     string
	OnRefreshToken TokenSink
	Clock          ports.Clock
	Logger         *slog.Logger
}

// SessionManager owns the login state machine for one account. All
// transitions, including the network calls they involve, run under a single
// mutex: two callers can never race re-authentication attempts against the
// provider. Sessions are replaced atomically and never handed out expired.
type SessionManager struct {
	mu             sync.Mutex
	gateway        AuthGateway
	clock          ports.Clock
	logger         *slog.Logger
	creds          domain.Credentials
	refreshToken   string
	customerID     string
	session        *domain.AuthSession
	pending        *domain.PendingTwoFactor
	onRefreshToken TokenSink
}

type LoginOutcome struct {
	State     SessionState
	TwoFactor *domain.PendingTwoFactor
}

func NewSessionManager(gateway AuthGateway, opts SessionManagerOptions) *SessionManager {
	clock := opts.Clock
	if clock == nil {
		clock = ports.SystemClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &SessionManager{
		gateway:        gateway,
		clock:          clock,
		logger:         logger,
		creds:          opts.Credentials,
		refreshToken:   opts.RefreshToken,
		customerID:     opts.CustomerID,
		onRefreshToken: opts.OnRefreshToken,
	}
}

func (m *SessionManager) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.pending != nil:
		return StateAwaitingTwoFactor
	case m.session != nil && !m.session.Expired(m.clock.Now()):
		return StateAuthenticated
	default:
		return StateUnauthenticated
	}
}

func (m *SessionManager) CustomerID() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.customerID
}

// CurrentRefreshToken exposes the stored refresh token so a completed setup
// flow can persist it alongside the credentials.
func (m *SessionManager) CurrentRefreshToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.refreshToken
}

// BeginLogin runs the first login step with fresh credentials. Password
// logins may stop at a pending verification challenge; browser logins either
// yield a session or fail with domain.ErrNoAuthToken.
func (m *SessionManager) BeginLogin(ctx context.Context, creds domain.Credentials) (LoginOutcome, error) {
	if err := creds.Validate(); err != nil {
		return LoginOutcome{State: StateUnauthenticated}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.creds = creds
	m.session = nil
	m.pending = nil

	switch creds.Method {
	case domain.LoginMethodPassword:
		grant, err := m.gateway.Login(ctx, creds.Email, creds.Password)
		if err != nil {
			return LoginOutcome{State: StateUnauthenticated}, err
		}
		if grant.TwoFactor != nil {
			pending := *grant.TwoFactor
			m.pending = &pending
			return LoginOutcome{State: StateAwaitingTwoFactor, TwoFactor: &pending}, nil
		}
		m.installGrantLocked(ctx, grant)
		return LoginOutcome{State: StateAuthenticated}, nil

	case domain.LoginMethodBrowser:
		grant, err := m.gateway.LoginJWT(ctx, creds.BrowserToken)
		if err != nil {
			return LoginOutcome{State: StateUnauthenticated}, err
		}
		m.installGrantLocked(ctx, grant)
		return LoginOutcome{State: StateAuthenticated}, nil

	default:
		return LoginOutcome{State: StateUnauthenticated}, fmt.Errorf("unsupported login method %q", creds.Method)
	}
}

// SubmitTwoFactor resolves the pending verification challenge. An invalid
// code keeps the challenge alive for a retry; a dead challenge drops back to
// the credentials step.
func (m *SessionManager) SubmitTwoFactor(ctx context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending == nil {
		return fmt.Errorf("%w: no pending verification challenge", domain.ErrVerificationFailed)
	}

	grant, err := m.gateway.VerifyTwoFactor(ctx, m.pending.ChallengeID, code)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidVerificationCode):
			// Challenge stays pending; the caller may retry with a new code.
		case errors.Is(err, domain.ErrCannotConnect):
		default:
			m.pending = nil
		}
		return err
	}

	m.installGrantLocked(ctx, grant)

	return nil
}

// ValidSession returns a non-expired session, silently re-authenticating
// from stored tokens or credentials when needed. It never waits for
// interactive input: when a human is required it fails with
// domain.ErrReauthRequired instead.
func (m *SessionManager) ValidSession(ctx context.Context) (domain.AuthSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending != nil {
		return domain.AuthSession{}, fmt.Errorf("%w: verification code entry in progress", domain.ErrReauthRequired)
	}

	if m.session != nil && !m.session.Expired(m.clock.Now()) {
		return *m.session, nil
	}
	m.session = nil

	if m.refreshToken != "" {
		grant, err := m.gateway.Refresh(ctx, m.refreshToken)
		if err == nil {
			m.installGrantLocked(ctx, grant)
			return *m.session, nil
		}
		if errors.Is(err, domain.ErrCannotConnect) {
			return domain.AuthSession{}, err
		}
		m.logger.Debug("refresh token rejected, falling back to stored credentials", "error", err)
		m.refreshToken = ""
	}

	switch m.creds.Method {
	case domain.LoginMethodPassword:
		grant, err := m.gateway.Login(ctx, m.creds.Email, m.creds.Password)
		if err != nil {
			if errors.Is(err, domain.ErrCannotConnect) {
				return domain.AuthSession{}, err
			}
			return domain.AuthSession{}, fmt.Errorf("%w: %w", domain.ErrReauthRequired, err)
		}
		if grant.TwoFactor != nil {
			pending := *grant.TwoFactor
			m.pending = &pending
			return domain.AuthSession{}, fmt.Errorf("%w: provider demands a verification code", domain.ErrReauthRequired)
		}
		m.installGrantLocked(ctx, grant)
		return *m.session, nil

	case domain.LoginMethodBrowser:
		grant, err := m.gateway.LoginJWT(ctx, m.creds.BrowserToken)
		if err != nil {
			if errors.Is(err, domain.ErrCannotConnect) {
				return domain.AuthSession{}, err
			}
			return domain.AuthSession{}, fmt.Errorf("%w: %w", domain.ErrReauthRequired, err)
		}
		m.installGrantLocked(ctx, grant)
		return *m.session, nil

	default:
		return domain.AuthSession{}, fmt.Errorf("%w: no stored credentials", domain.ErrReauthRequired)
	}
}

// Invalidate discards the current session after an authorization rejection;
// the next ValidSession call forces re-authentication.
func (m *SessionManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.session = nil
}

func (m *SessionManager) installGrantLocked(ctx context.Context, grant superloop.TokenGrant) {
	session := grant.Session
	m.session = &session
	m.pending = nil

	if grant.CustomerID != "" {
		m.customerID = grant.CustomerID
	}

	if grant.RefreshToken != "" && grant.RefreshToken != m.refreshToken {
		m.refreshToken = grant.RefreshToken
		if m.onRefreshToken != nil {
			if err := m.onRefreshToken(ctx, grant.RefreshToken); err != nil {
				m.logger.Warn("persist rotated refresh token", "error", err)
			}
		}
	}
}
