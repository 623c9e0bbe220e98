package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatwebagency/ha-superloop/internal/adapters/superloop"
	"github.com/thatwebagency/ha-superloop/internal/domain"
)

func newTestSetupFlow(gateway *fakeAuthGateway) (*SetupFlow, *memAccountRepo, *memSecretStore) {
	clock := newFakeClock(testNow)
	repo := newMemAccountRepo()
	secrets := newMemSecretStore()
	manager := NewSessionManager(gateway, SessionManagerOptions{Clock: clock})
	flow := NewSetupFlow(repo, secrets, manager, clock)

	return flow, repo, secrets
}

func TestSetupFlowPasswordHappyPath(t *testing.T) {
	t.Parallel()

	gateway := &fakeAuthGateway{
		loginFn: func(string, string) (superloop.TokenGrant, error) {
			grant := grantWithSession("access", testNow.Add(time.Hour))
			grant.RefreshToken = "refresh-1"
			grant.CustomerID = "cust-7"
			return grant, nil
		},
	}
	flow, repo, secrets := newTestSetupFlow(gateway)

	result, err := flow.SubmitUser(context.Background(), " user@example.com ", "hunter2")
	require.NoError(t, err)
	require.NotNil(t, result.Account)
	assert.Empty(t, result.ErrorCode)
	assert.Empty(t, result.Abort)

	account := *result.Account
	assert.NotEmpty(t, account.ID)
	assert.Equal(t, "user@example.com", account.Email)
	assert.Equal(t, domain.LoginMethodPassword, account.Method)
	assert.Equal(t, "cust-7", account.CustomerID)
	assert.Equal(t, testNow, account.CreatedAt)

	saved, err := repo.GetByID(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, account, saved)

	blob, err := secrets.Get(context.Background(), account.SecretRef)
	require.NoError(t, err)
	creds, err := DecodeCredentials(blob)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", creds.Password)

	refresh, err := secrets.Get(context.Background(), account.RefreshSecretRef)
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", refresh)
}

func TestSetupFlowDuplicateEmailAborts(t *testing.T) {
	t.Parallel()

	gateway := &fakeAuthGateway{}
	flow, repo, _ := newTestSetupFlow(gateway)
	require.NoError(t, repo.Save(context.Background(), domain.Account{ID: "existing", Email: "User@Example.com"}))

	result, err := flow.SubmitUser(context.Background(), "user@example.com", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, AbortAlreadyConfigured, result.Abort)
	assert.Nil(t, result.Account)

	login, _, _, _ := gateway.counts()
	assert.Zero(t, login, "a duplicate never reaches the provider")
}

func TestSetupFlowInvalidPasswordKeepsUserStep(t *testing.T) {
	t.Parallel()

	gateway := &fakeAuthGateway{
		loginFn: func(string, string) (superloop.TokenGrant, error) {
			return superloop.TokenGrant{}, domain.ErrInvalidAuth
		},
	}
	flow, repo, _ := newTestSetupFlow(gateway)

	result, err := flow.SubmitUser(context.Background(), "user@example.com", "wrong")
	require.NoError(t, err)
	assert.Equal(t, StepUser, result.Step)
	assert.Equal(t, ErrorCodeInvalidAuth, result.ErrorCode)
	assert.Nil(t, result.Account)

	accounts, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestSetupFlowConnectFailureKeepsUserStep(t *testing.T) {
	t.Parallel()

	gateway := &fakeAuthGateway{
		loginFn: func(string, string) (superloop.TokenGrant, error) {
			return superloop.TokenGrant{}, domain.ErrCannotConnect
		},
	}
	flow, _, _ := newTestSetupFlow(gateway)

	result, err := flow.SubmitUser(context.Background(), "user@example.com", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, ErrorCodeCannotConnect, result.ErrorCode)
}

func TestSetupFlowTwoFactorWrongThenRightCode(t *testing.T) {
	t.Parallel()

	gateway := &fakeAuthGateway{
		loginFn: func(string, string) (superloop.TokenGrant, error) {
			return superloop.TokenGrant{
				TwoFactor: &domain.PendingTwoFactor{ChallengeID: "challenge-1", DestinationHint: "+61•••123"},
			}, nil
		},
		verifyFn: func(_, code string) (superloop.TokenGrant, error) {
			if code != "654321" {
				return superloop.TokenGrant{}, domain.ErrInvalidVerificationCode
			}
			return grantWithSession("access", testNow.Add(time.Hour)), nil
		},
	}
	flow, repo, _ := newTestSetupFlow(gateway)

	result, err := flow.SubmitUser(context.Background(), "user@example.com", "hunter2")
	require.NoError(t, err)
	require.Equal(t, StepTwoFactor, result.Step)
	require.NotNil(t, result.TwoFactor)

	result, err = flow.SubmitTwoFactor(context.Background(), "000000")
	require.NoError(t, err)
	assert.Equal(t, StepTwoFactor, result.Step, "a wrong code stays on the code step")
	assert.Equal(t, ErrorCodeInvalidCode, result.ErrorCode)

	result, err = flow.SubmitTwoFactor(context.Background(), "654321")
	require.NoError(t, err)
	require.NotNil(t, result.Account)

	accounts, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}

func TestSetupFlowDeadChallengeReturnsToUserStep(t *testing.T) {
	t.Parallel()

	gateway := &fakeAuthGateway{
		loginFn: func(string, string) (superloop.TokenGrant, error) {
			return superloop.TokenGrant{TwoFactor: &domain.PendingTwoFactor{ChallengeID: "challenge-1"}}, nil
		},
		verifyFn: func(string, string) (superloop.TokenGrant, error) {
			return superloop.TokenGrant{}, domain.ErrVerificationFailed
		},
	}
	flow, _, _ := newTestSetupFlow(gateway)

	_, err := flow.SubmitUser(context.Background(), "user@example.com", "hunter2")
	require.NoError(t, err)

	result, err := flow.SubmitTwoFactor(context.Background(), "111111")
	require.NoError(t, err)
	assert.Equal(t, StepUser, result.Step)
	assert.Equal(t, ErrorCodeVerificationFailed, result.ErrorCode)
}

func TestSetupFlowBrowserToken(t *testing.T) {
	t.Parallel()

	gateway := &fakeAuthGateway{
		jwtFn: func(browserToken string) (superloop.TokenGrant, error) {
			if browserToken == "" {
				return superloop.TokenGrant{}, domain.ErrNoAuthToken
			}
			return grantWithSession("access", testNow.Add(time.Hour)), nil
		},
	}
	flow, _, secrets := newTestSetupFlow(gateway)

	result, err := flow.SubmitBrowserAuth(context.Background(), "portal-jwt")
	require.NoError(t, err)
	require.NotNil(t, result.Account)
	assert.Equal(t, domain.LoginMethodBrowser, result.Account.Method)

	blob, err := secrets.Get(context.Background(), result.Account.SecretRef)
	require.NoError(t, err)
	creds, err := DecodeCredentials(blob)
	require.NoError(t, err)
	assert.Equal(t, "portal-jwt", creds.BrowserToken)
}

func TestSetupFlowBrowserTokenMissing(t *testing.T) {
	t.Parallel()

	gateway := &fakeAuthGateway{}
	flow, _, _ := newTestSetupFlow(gateway)

	result, err := flow.SubmitBrowserAuth(context.Background(), "expired-jwt")
	require.NoError(t, err)
	assert.Equal(t, StepBrowserAuth, result.Step)
	assert.Equal(t, ErrorCodeNoAuthToken, result.ErrorCode)
}

func TestSetupFlowReauthUpdatesExistingAccount(t *testing.T) {
	t.Parallel()

	gateway := &fakeAuthGateway{
		loginFn: func(_, password string) (superloop.TokenGrant, error) {
			if password != "new-password" {
				return superloop.TokenGrant{}, domain.ErrInvalidAuth
			}
			grant := grantWithSession("access", testNow.Add(time.Hour))
			grant.CustomerID = "cust-7"
			return grant, nil
		},
	}
	flow, repo, secrets := newTestSetupFlow(gateway)

	existing := domain.Account{
		ID:               "acct-1",
		Email:            "user@example.com",
		Method:           domain.LoginMethodPassword,
		ServiceID:        "svc-100",
		SecretRef:        CredentialsSecretRef("acct-1"),
		RefreshSecretRef: RefreshSecretRef("acct-1"),
		CreatedAt:        testNow.Add(-24 * time.Hour),
	}
	require.NoError(t, repo.Save(context.Background(), existing))

	result, err := flow.BeginReauth(context.Background(), existing.ID)
	require.NoError(t, err)
	assert.Equal(t, StepReauthConfirm, result.Step)

	result, err = flow.SubmitUser(context.Background(), "user@example.com", "new-password")
	require.NoError(t, err)
	assert.Equal(t, AbortReauthSuccessful, result.Abort)
	require.NotNil(t, result.Account)
	assert.Equal(t, existing.ID, result.Account.ID, "reauth never mints a new account")
	assert.Equal(t, "svc-100", result.Account.ServiceID)
	assert.Equal(t, "cust-7", result.Account.CustomerID)

	blob, err := secrets.Get(context.Background(), existing.SecretRef)
	require.NoError(t, err)
	creds, err := DecodeCredentials(blob)
	require.NoError(t, err)
	assert.Equal(t, "new-password", creds.Password)
}

func TestSetupFlowReauthUnknownAccount(t *testing.T) {
	t.Parallel()

	flow, _, _ := newTestSetupFlow(&fakeAuthGateway{})

	_, err := flow.BeginReauth(context.Background(), "ghost")
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
}
