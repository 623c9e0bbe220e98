package superloop

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatwebagency/ha-superloop/internal/domain"
)

func newTestClient(server *httptest.Server) *Client {
	return NewClient(Config{
		BaseURL:     server.URL,
		JWTLoginURL: server.URL + "/v1/login-jwt",
		HTTPClient:  server.Client(),
	})
}

func TestLoginParsesTokenResponse(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/token", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "user@example.net", body["username"])
		assert.Equal(t, "hunter2", body["password"])
		assert.Equal(t, "superloop", body["brand"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"access-1","refreshToken":"refresh-1","expiresIn":3600,"customerId":42}`))
	}))
	t.Cleanup(server.Close)

	grant, err := newTestClient(server).Login(context.Background(), "user@example.net", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "access-1", grant.Session.AccessToken)
	assert.Equal(t, "refresh-1", grant.RefreshToken)
	assert.Equal(t, "42", grant.CustomerID)
	assert.Nil(t, grant.TwoFactor)
	assert.WithinDuration(t, time.Now().Add(time.Hour), grant.Session.ExpiresAt, 5*time.Second)
}

func TestLoginReturnsPendingChallengeWhenTwoFactorRequired(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"twoFactorRequired":true,"challengeId":"ch-7","destination":"+61•••••123"}`))
	}))
	t.Cleanup(server.Close)

	grant, err := newTestClient(server).Login(context.Background(), "user@example.net", "hunter2")
	require.NoError(t, err)
	assert.Empty(t, grant.Session.AccessToken)
	require.NotNil(t, grant.TwoFactor)
	assert.Equal(t, "ch-7", grant.TwoFactor.ChallengeID)
	assert.Equal(t, "+61•••••123", grant.TwoFactor.DestinationHint)
}

func TestLoginMapsUnauthorizedToInvalidAuth(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Invalid username or password"}`))
	}))
	t.Cleanup(server.Close)

	_, err := newTestClient(server).Login(context.Background(), "user@example.net", "wrong")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidAuth)
	assert.ErrorContains(t, err, "Invalid username or password")
}

func TestLoginMapsTransportFailureToCannotConnect(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	server.Close()

	_, err := newTestClient(server).Login(context.Background(), "user@example.net", "hunter2")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCannotConnect)
}

func TestLoginTimesOutWithoutCallerDeadline(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(100 * time.Millisecond)
		_, _ = w.Write([]byte(`{"token":"late"}`))
	}))
	t.Cleanup(server.Close)

	client := NewClient(Config{
		BaseURL:        server.URL,
		HTTPClient:     server.Client(),
		RequestTimeout: 20 * time.Millisecond,
	})

	_, err := client.Login(context.Background(), "user@example.net", "hunter2")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCannotConnect)
}

func TestVerifyTwoFactorDistinguishesBadCodeFromExpiredChallenge(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "bad code", status: http.StatusBadRequest, body: `{"error":"invalid_code"}`, wantErr: domain.ErrInvalidVerificationCode},
		{name: "unprocessable code", status: http.StatusUnprocessableEntity, body: `{"error":"invalid_code"}`, wantErr: domain.ErrInvalidVerificationCode},
		{name: "expired challenge", status: http.StatusGone, body: `{"error":"challenge_expired"}`, wantErr: domain.ErrVerificationFailed},
		{name: "unknown challenge", status: http.StatusNotFound, body: `{"error":"not_found"}`, wantErr: domain.ErrVerificationFailed},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/auth/verify2fa", r.URL.Path)
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			t.Cleanup(server.Close)

			_, err := newTestClient(server).VerifyTwoFactor(context.Background(), "ch-7", "000000")
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestVerifyTwoFactorSuccessGrantsSession(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ch-7", body["challengeId"])
		assert.Equal(t, "123456", body["code"])

		_, _ = w.Write([]byte(`{"token":"access-2fa","refreshToken":"refresh-2fa","expiresIn":900,"customerId":"42"}`))
	}))
	t.Cleanup(server.Close)

	grant, err := newTestClient(server).VerifyTwoFactor(context.Background(), "ch-7", " 123456 ")
	require.NoError(t, err)
	assert.Equal(t, "access-2fa", grant.Session.AccessToken)
	assert.Equal(t, "42", grant.CustomerID)
}

func TestRefreshMapsRejectionToInvalidAuth(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/token/refresh", r.URL.Path)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"refresh_token_revoked"}`))
	}))
	t.Cleanup(server.Close)

	_, err := newTestClient(server).Refresh(context.Background(), "stale-refresh")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidAuth)
}

func TestLoginJWTExchangesBrowserToken(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/login-jwt", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "browser-token", body["token"])

		_, _ = w.Write([]byte(`{"token":"long-lived-jwt","customerId":"42"}`))
	}))
	t.Cleanup(server.Close)

	grant, err := newTestClient(server).LoginJWT(context.Background(), "browser-token")
	require.NoError(t, err)
	assert.Equal(t, "long-lived-jwt", grant.Session.AccessToken)
	assert.True(t, grant.Session.ExpiresAt.IsZero())
}

func TestLoginJWTMapsEmptyExchangeToNoAuthToken(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(server.Close)

	client := newTestClient(server)

	_, err := client.LoginJWT(context.Background(), "browser-token")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoAuthToken)

	_, err = client.LoginJWT(context.Background(), "  ")
	assert.ErrorIs(t, err, domain.ErrNoAuthToken)
}

func TestGetServicesAttachesBearerTokenAndDecodes(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/getServices/42", r.URL.Path)
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))

		_, _ = w.Write([]byte(`{"services":[{"serviceDetails":{"serviceId":9001,"serviceType":"HFC","downloadSpeedMbps":100},"usage":{"totalUsedMB":102400,"includedQuotaMB":512000},"billingDetails":{"planName":"Home Fast","cycleStartDate":"2026-03-01","cycleEndDate":"2026-03-31"}}]}`))
	}))
	t.Cleanup(server.Close)

	services, err := newTestClient(server).GetServices(context.Background(), "access-1", "42")
	require.NoError(t, err)
	require.Len(t, services.BroadbandServices(), 1)

	service := services.BroadbandServices()[0]
	assert.Equal(t, "9001", service.ServiceDetails.ServiceID.String())
	assert.Equal(t, "HFC", service.ServiceDetails.ServiceType)
	require.NotNil(t, service.Usage.TotalUsedMB)
	assert.InDelta(t, 102400, *service.Usage.TotalUsedMB, 0.001)
}

func TestGetServicesPrefersBroadbandKey(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"broadband":[{"id":"svc-1","status":"ACTIVE"}],"services":[{"id":"svc-legacy"}]}`))
	}))
	t.Cleanup(server.Close)

	services, err := newTestClient(server).GetServices(context.Background(), "access-1", "42")
	require.NoError(t, err)
	require.Len(t, services.BroadbandServices(), 1)
	assert.Equal(t, "svc-1", services.BroadbandServices()[0].ID.String())
}

func TestGetServicesMapsUnauthorizedToInvalidAuth(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	_, err := newTestClient(server).GetServices(context.Background(), "expired", "42")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidAuth)
}

func TestGetDailyUsageDecodesEntries(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/getBroadbandDailyUsage/9001", r.URL.Path)
		_, _ = w.Write([]byte(`{"usage":[{"date":"2026-03-14","downloadMB":2048,"uploadMB":512}]}`))
	}))
	t.Cleanup(server.Close)

	usage, err := newTestClient(server).GetDailyUsage(context.Background(), "access-1", "9001")
	require.NoError(t, err)
	require.Len(t, usage.Usage, 1)

	recordedAt := time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC)
	day := usage.Usage[0].ToDomain("9001", recordedAt)
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), day.Day)
	assert.InDelta(t, 2.0, day.DownloadGB, 0.001)
	assert.InDelta(t, 0.5, day.UploadGB, 0.001)
	assert.InDelta(t, 2.5, day.TotalGB, 0.001)
}
