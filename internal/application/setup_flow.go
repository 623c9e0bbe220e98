package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/thatwebagency/ha-superloop/internal/domain"
	"github.com/thatwebagency/ha-superloop/internal/ports"
)

type FlowStep string

const (
	StepUser          FlowStep = "user"
	StepBrowserAuth   FlowStep = "browser_auth"
	StepTwoFactor     FlowStep = "two_factor"
	StepReauthConfirm FlowStep = "reauth_confirm"
)

type FlowErrorCode string

const (
	ErrorCodeInvalidAuth        FlowErrorCode = "invalid_auth"
	ErrorCodeInvalidCode        FlowErrorCode = "invalid_verification_code"
	ErrorCodeVerificationFailed FlowErrorCode = "verification_failed"
	ErrorCodeNoAuthToken        FlowErrorCode = "no_auth_token"
	ErrorCodeCannotConnect      FlowErrorCode = "cannot_connect"
	ErrorCodeUnknown            FlowErrorCode = "unknown"
)

type AbortReason string

const (
	AbortAlreadyConfigured AbortReason = "already_configured"
	AbortReauthSuccessful  AbortReason = "reauth_successful"
	AbortAuthFailed        AbortReason = "auth_failed"
)

// StepResult is what a configuration wizard renders after each step. A
// non-empty ErrorCode keeps the wizard on the reported step; Abort ends the
// flow; a non-nil Account means setup completed.
type StepResult struct {
	Step      FlowStep
	ErrorCode FlowErrorCode
	TwoFactor *domain.PendingTwoFactor
	Abort     AbortReason
	Account   *domain.Account
}

// SetupFlow drives account creation and reauthentication for one wizard
// run. Provider failures are encoded as step error codes; only storage
// failures surface as Go errors.
type SetupFlow struct {
	repo    ports.AccountRepository
	secrets ports.SecretStore
	manager *SessionManager
	clock   ports.Clock
	newID   func() string

	creds  domain.Credentials
	reauth *domain.Account
}

func NewSetupFlow(repo ports.AccountRepository, secrets ports.SecretStore, manager *SessionManager, clock ports.Clock) *SetupFlow {
	if clock == nil {
		clock = ports.SystemClock{}
	}

	return &SetupFlow{
		repo:    repo,
		secrets: secrets,
		manager: manager,
		clock:   clock,
		newID:   uuid.NewString,
	}
}

// SubmitUser handles the email/password step.
func (f *SetupFlow) SubmitUser(ctx context.Context, email, password string) (StepResult, error) {
	email = strings.TrimSpace(email)

	configured, err := f.alreadyConfigured(ctx, email)
	if err != nil {
		return StepResult{}, err
	}
	if configured {
		return StepResult{Step: StepUser, Abort: AbortAlreadyConfigured}, nil
	}

	f.creds = domain.Credentials{Method: domain.LoginMethodPassword, Email: email, Password: password}

	outcome, err := f.manager.BeginLogin(ctx, f.creds)
	if err != nil {
		return StepResult{Step: StepUser, ErrorCode: flowErrorCode(err)}, nil
	}
	if outcome.State == StateAwaitingTwoFactor {
		return StepResult{Step: StepTwoFactor, TwoFactor: outcome.TwoFactor}, nil
	}

	return f.complete(ctx, StepUser)
}

// SubmitBrowserAuth handles the delegated-login callback token.
func (f *SetupFlow) SubmitBrowserAuth(ctx context.Context, browserToken string) (StepResult, error) {
	f.creds = domain.Credentials{Method: domain.LoginMethodBrowser, BrowserToken: browserToken}

	if _, err := f.manager.BeginLogin(ctx, f.creds); err != nil {
		return StepResult{Step: StepBrowserAuth, ErrorCode: flowErrorCode(err)}, nil
	}

	return f.complete(ctx, StepBrowserAuth)
}

// SubmitTwoFactor handles the verification code step. An invalid code keeps
// the wizard on this step for a retry; a dead challenge sends it back to the
// credentials step.
func (f *SetupFlow) SubmitTwoFactor(ctx context.Context, code string) (StepResult, error) {
	if err := f.manager.SubmitTwoFactor(ctx, code); err != nil {
		step := StepTwoFactor
		if errors.Is(err, domain.ErrVerificationFailed) {
			step = StepUser
		}
		return StepResult{Step: step, ErrorCode: flowErrorCode(err)}, nil
	}

	return f.complete(ctx, StepTwoFactor)
}

// BeginReauth primes the flow to re-collect credentials for an existing
// account instead of creating a new one.
func (f *SetupFlow) BeginReauth(ctx context.Context, id domain.AccountID) (StepResult, error) {
	account, err := f.repo.GetByID(ctx, id)
	if err != nil {
		return StepResult{}, fmt.Errorf("load account for reauth: %w", err)
	}
	f.reauth = &account

	return StepResult{Step: StepReauthConfirm}, nil
}

func (f *SetupFlow) alreadyConfigured(ctx context.Context, email string) (bool, error) {
	if f.reauth != nil {
		return false, nil
	}

	accounts, err := f.repo.List(ctx)
	if err != nil {
		return false, fmt.Errorf("list accounts: %w", err)
	}
	for _, account := range accounts {
		if strings.EqualFold(account.Email, email) {
			return true, nil
		}
	}

	return false, nil
}

func (f *SetupFlow) complete(ctx context.Context, step FlowStep) (StepResult, error) {
	account := domain.Account{
		ID:        domain.AccountID(f.newID()),
		CreatedAt: f.clock.Now(),
	}
	abort := AbortReason("")
	if f.reauth != nil {
		account = *f.reauth
		abort = AbortReauthSuccessful
	}

	account.Email = f.creds.Email
	account.Method = f.creds.Method
	account.CustomerID = f.manager.CustomerID()
	account.SecretRef = credentialsSecretRef(account.ID)
	account.RefreshSecretRef = refreshSecretRef(account.ID)

	encoded, err := encodeCredentials(f.creds)
	if err != nil {
		return StepResult{}, err
	}
	if err := f.secrets.Put(ctx, account.SecretRef, encoded); err != nil {
		return StepResult{}, fmt.Errorf("store credentials: %w", err)
	}

	if refreshToken := f.manager.CurrentRefreshToken(); refreshToken != "" {
		if err := f.secrets.Put(ctx, account.RefreshSecretRef, refreshToken); err != nil {
			return StepResult{}, fmt.Errorf("store refresh token: %w", err)
		}
	}

	if err := f.repo.Save(ctx, account); err != nil {
		return StepResult{}, fmt.Errorf("save account: %w", err)
	}

	return StepResult{Step: step, Abort: abort, Account: &account}, nil
}

func flowErrorCode(err error) FlowErrorCode {
	switch {
	case errors.Is(err, domain.ErrInvalidVerificationCode):
		return ErrorCodeInvalidCode
	case errors.Is(err, domain.ErrVerificationFailed):
		return ErrorCodeVerificationFailed
	case errors.Is(err, domain.ErrNoAuthToken):
		return ErrorCodeNoAuthToken
	case errors.Is(err, domain.ErrInvalidAuth):
		return ErrorCodeInvalidAuth
	case errors.Is(err, domain.ErrCannotConnect):
		return ErrorCodeCannotConnect
	default:
		return ErrorCodeUnknown
	}
}

func credentialsSecretRef(id domain.AccountID) string {
	return fmt.Sprintf("superloop/%s/credentials", id)
}

func refreshSecretRef(id domain.AccountID) string {
	return fmt.Sprintf("superloop/%s/refresh_token", id)
}

func encodeCredentials(creds domain.Credentials) (string, error) {
	payload, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("encode credentials: %w", err)
	}

	return string(payload), nil
}

// DecodeCredentials restores a persisted credentials blob.
func DecodeCredentials(secretValue string) (domain.Credentials, error) {
	var creds domain.Credentials
	if err := json.Unmarshal([]byte(secretValue), &creds); err != nil {
		return domain.Credentials{}, fmt.Errorf("decode credentials: %w", err)
	}
	if err := creds.Validate(); err != nil {
		return domain.Credentials{}, err
	}

	return creds, nil
}

// CredentialsSecretRef and RefreshSecretRef are the canonical secret keys
// for an account; the wiring layer uses them to rebuild session managers.
func CredentialsSecretRef(id domain.AccountID) string { return credentialsSecretRef(id) }

func RefreshSecretRef(id domain.AccountID) string { return refreshSecretRef(id) }
