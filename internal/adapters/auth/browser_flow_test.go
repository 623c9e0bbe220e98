package auth

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatwebagency/ha-superloop/internal/domain"
)

func TestBuildPortalURLIncludesRedirectAndState(t *testing.T) {
	t.Parallel()

	u, err := BuildPortalURL("https://portal.example.com/login", "http://localhost:3000/superloop/callback", "state-xyz")
	require.NoError(t, err)

	parsed, err := url.Parse(u)
	require.NoError(t, err)

	q := parsed.Query()
	assert.Equal(t, "http://localhost:3000/superloop/callback", q.Get("redirect_uri"))
	assert.Equal(t, "state-xyz", q.Get("state"))
}

func TestBuildPortalURLDefaultsToCustomerPortal(t *testing.T) {
	t.Parallel()

	u, err := BuildPortalURL("", "http://localhost:3000/superloop/callback", "state-xyz")
	require.NoError(t, err)
	assert.Contains(t, u, "superhub.superloop.com")
}

func TestBuildPortalURLRejectsNonHTTPScheme(t *testing.T) {
	t.Parallel()

	_, err := BuildPortalURL("ftp://portal.example.com/login", "http://localhost:3000/superloop/callback", "state-xyz")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http or https")
}

func TestBuildPortalURLRequiresState(t *testing.T) {
	t.Parallel()

	_, err := BuildPortalURL("https://portal.example.com/login", "http://localhost:3000/superloop/callback", "")
	require.ErrorIs(t, err, ErrMissingState)
}

func TestCallbackServerReturnsTokenOnSuccess(t *testing.T) {
	t.Parallel()

	server, err := StartCallbackServer("127.0.0.1:0", "expected-state")
	require.NoError(t, err)
	defer func() { _ = server.Close() }()

	resp, err := http.Get(server.RedirectURI() + "?token=portal-jwt&state=expected-state")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Login complete")

	token, err := server.WaitForToken(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "portal-jwt", token)
}

func TestCallbackServerReturnsErrorOnStateMismatch(t *testing.T) {
	t.Parallel()

	server, err := StartCallbackServer("127.0.0.1:0", "expected-state")
	require.NoError(t, err)
	defer func() { _ = server.Close() }()

	resp, err := http.Get(server.RedirectURI() + "?token=portal-jwt&state=wrong-state")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, err = server.WaitForToken(2 * time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStateMismatch))
}

func TestCallbackServerReportsMissingToken(t *testing.T) {
	t.Parallel()

	server, err := StartCallbackServer("127.0.0.1:0", "expected-state")
	require.NoError(t, err)
	defer func() { _ = server.Close() }()

	resp, err := http.Get(server.RedirectURI() + "?state=expected-state")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, err = server.WaitForToken(2 * time.Second)
	require.ErrorIs(t, err, domain.ErrNoAuthToken)
}

func TestCallbackServerTimesOutWaitingForCallback(t *testing.T) {
	t.Parallel()

	server, err := StartCallbackServer("127.0.0.1:0", "expected-state")
	require.NoError(t, err)
	defer func() { _ = server.Close() }()

	_, err = server.WaitForToken(50 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCallbackTimeout))
}

func TestStartCallbackServerRequiresExpectedState(t *testing.T) {
	t.Parallel()

	_, err := StartCallbackServer("127.0.0.1:0", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingState))
}
