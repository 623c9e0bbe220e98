package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/thatwebagency/ha-superloop/internal/adapters/superloop"
	"github.com/thatwebagency/ha-superloop/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

type fakeAuthGateway struct {
	mu           sync.Mutex
	loginCalls   int
	verifyCalls  int
	refreshCalls int
	jwtCalls     int

	loginFn   func(email, password string) (superloop.TokenGrant, error)
	verifyFn  func(challengeID, code string) (superloop.TokenGrant, error)
	refreshFn func(refreshToken string) (superloop.TokenGrant, error)
	jwtFn     func(browserToken string) (superloop.TokenGrant, error)
}

func (g *fakeAuthGateway) Login(_ context.Context, email, password string) (superloop.TokenGrant, error) {
	g.mu.Lock()
	g.loginCalls++
	fn := g.loginFn
	g.mu.Unlock()

	if fn == nil {
		return superloop.TokenGrant{}, domain.ErrInvalidAuth
	}

	return fn(email, password)
}

func (g *fakeAuthGateway) VerifyTwoFactor(_ context.Context, challengeID, code string) (superloop.TokenGrant, error) {
	g.mu.Lock()
	g.verifyCalls++
	fn := g.verifyFn
	g.mu.Unlock()

	if fn == nil {
		return superloop.TokenGrant{}, domain.ErrVerificationFailed
	}

	return fn(challengeID, code)
}

func (g *fakeAuthGateway) Refresh(_ context.Context, refreshToken string) (superloop.TokenGrant, error) {
	g.mu.Lock()
	g.refreshCalls++
	fn := g.refreshFn
	g.mu.Unlock()

	if fn == nil {
		return superloop.TokenGrant{}, domain.ErrInvalidAuth
	}

	return fn(refreshToken)
}

func (g *fakeAuthGateway) LoginJWT(_ context.Context, browserToken string) (superloop.TokenGrant, error) {
	g.mu.Lock()
	g.jwtCalls++
	fn := g.jwtFn
	g.mu.Unlock()

	if fn == nil {
		return superloop.TokenGrant{}, domain.ErrNoAuthToken
	}

	return fn(browserToken)
}

func (g *fakeAuthGateway) counts() (login, verify, refresh, jwt int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.loginCalls, g.verifyCalls, g.refreshCalls, g.jwtCalls
}

type fakeServiceGateway struct {
	mu            sync.Mutex
	servicesCalls int
	dailyCalls    int

	servicesFn func(accessToken, customerID string) (superloop.ServicesResponse, error)
	dailyFn    func(accessToken, serviceID string) (superloop.DailyUsageResponse, error)
}

func (g *fakeServiceGateway) GetServices(_ context.Context, accessToken, customerID string) (superloop.ServicesResponse, error) {
	g.mu.Lock()
	g.servicesCalls++
	fn := g.servicesFn
	g.mu.Unlock()

	if fn == nil {
		return superloop.ServicesResponse{}, domain.ErrMalformedPayload
	}

	return fn(accessToken, customerID)
}

func (g *fakeServiceGateway) GetDailyUsage(_ context.Context, accessToken, serviceID string) (superloop.DailyUsageResponse, error) {
	g.mu.Lock()
	g.dailyCalls++
	fn := g.dailyFn
	g.mu.Unlock()

	if fn == nil {
		return superloop.DailyUsageResponse{}, domain.ErrMalformedPayload
	}

	return fn(accessToken, serviceID)
}

func (g *fakeServiceGateway) callCounts() (services, daily int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.servicesCalls, g.dailyCalls
}

type memAccountRepo struct {
	mu       sync.Mutex
	accounts map[domain.AccountID]domain.Account
}

func newMemAccountRepo() *memAccountRepo {
	return &memAccountRepo{accounts: map[domain.AccountID]domain.Account{}}
}

func (r *memAccountRepo) GetByID(_ context.Context, id domain.AccountID) (domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[id]
	if !ok {
		return domain.Account{}, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, id)
	}

	return account, nil
}

func (r *memAccountRepo) List(_ context.Context) ([]domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	accounts := make([]domain.Account, 0, len(r.accounts))
	for _, account := range r.accounts {
		accounts = append(accounts, account)
	}

	return accounts, nil
}

func (r *memAccountRepo) Save(_ context.Context, account domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.accounts[account.ID] = account

	return nil
}

func (r *memAccountRepo) Delete(_ context.Context, id domain.AccountID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.accounts, id)

	return nil
}

type memSecretStore struct {
	mu      sync.Mutex
	secrets map[string]string
}

func newMemSecretStore() *memSecretStore {
	return &memSecretStore{secrets: map[string]string{}}
}

func (s *memSecretStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.secrets[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrSecretNotFound, key)
	}

	return value, nil
}

func (s *memSecretStore) Put(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.secrets[key] = value

	return nil
}

func (s *memSecretStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.secrets, key)

	return nil
}

type memHistoryStore struct {
	mu      sync.Mutex
	entries []domain.DailyUsage
}

func (s *memHistoryStore) Record(_ context.Context, usage []domain.DailyUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, usage...)

	return nil
}

func (s *memHistoryStore) List(_ context.Context, serviceID string, since time.Time) ([]domain.DailyUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.DailyUsage
	for _, entry := range s.entries {
		if entry.ServiceID == serviceID && !entry.Day.Before(since) {
			out = append(out, entry)
		}
	}

	return out, nil
}

func (s *memHistoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []domain.DailyUsage
	var dropped int64
	for _, entry := range s.entries {
		if entry.RecordedAt.Before(cutoff) {
			dropped++
			continue
		}
		kept = append(kept, entry)
	}
	s.entries = kept

	return dropped, nil
}

func grantWithSession(token string, expiresAt time.Time) superloop.TokenGrant {
	return superloop.TokenGrant{
		Session: domain.AuthSession{
			AccessToken: token,
			ObtainedAt:  expiresAt.Add(-time.Hour),
			ExpiresAt:   expiresAt,
		},
	}
}

func passwordCreds(email, password string) domain.Credentials {
	return domain.Credentials{Method: domain.LoginMethodPassword, Email: email, Password: password}
}
