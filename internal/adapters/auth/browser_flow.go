package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/thatwebagency/ha-superloop/internal/domain"
)

// DefaultPortalURL is the customer portal login page that issues the JWT
// used by the delegated login.
const DefaultPortalURL = "https://superhub.superloop.com/login"

var (
	ErrStateMismatch   = errors.New("browser callback state mismatch")
	ErrCallbackTimeout = errors.New("timed out waiting for browser callback")
	ErrMissingState    = errors.New("expected state is required")
)

// NewState returns an unguessable state token bound to one browser login
// attempt.
func NewState() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// BuildPortalURL builds the portal login URL that sends the browser back to
// the local callback once the customer has signed in.
func BuildPortalURL(portalURL, redirectURI, state string) (string, error) {
	if portalURL == "" {
		portalURL = DefaultPortalURL
	}
	if redirectURI == "" {
		return "", errors.New("redirect uri is required")
	}
	if state == "" {
		return "", ErrMissingState
	}

	parsed, err := url.Parse(portalURL)
	if err != nil {
		return "", fmt.Errorf("parse portal url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("portal url must use http or https")
	}
	if parsed.Host == "" {
		return "", errors.New("portal url host is required")
	}

	q := parsed.Query()
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	parsed.RawQuery = q.Encode()

	return parsed.String(), nil
}

// CallbackServer is a loopback HTTP listener that waits for the portal to
// deliver the session JWT after an interactive browser login.
type CallbackServer struct {
	expectedState string
	listener      net.Listener
	server        *http.Server
	resultCh      chan callbackResult
	resultOnce    sync.Once
	closeOnce     sync.Once
}

type callbackResult struct {
	token string
	err   error
}

func StartCallbackServer(listenAddr string, expectedState string) (*CallbackServer, error) {
	if expectedState == "" {
		return nil, ErrMissingState
	}
	if listenAddr == "" {
		listenAddr = "127.0.0.1:0"
	}

	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen callback server: %w", err)
	}

	cb := &CallbackServer{
		expectedState: expectedState,
		listener:      listener,
		resultCh:      make(chan callbackResult, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/superloop/callback", cb.handleCallback)

	cb.server = &http.Server{Handler: mux}

	go func() {
		if serveErr := cb.server.Serve(cb.listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			cb.trySendResult(callbackResult{err: serveErr})
		}
	}()

	return cb, nil
}

func (c *CallbackServer) RedirectURI() string {
	if tcpAddr, ok := c.listener.Addr().(*net.TCPAddr); ok {
		return fmt.Sprintf("http://localhost:%d/superloop/callback", tcpAddr.Port)
	}
	return "http://localhost/superloop/callback"
}

// WaitForToken blocks until the portal delivers a token, the timeout lapses,
// or the callback reports a failure. The server shuts down either way.
func (c *CallbackServer) WaitForToken(timeout time.Duration) (string, error) {
	defer func() { _ = c.Close() }()

	select {
	case result := <-c.resultCh:
		return result.token, result.err
	case <-time.After(timeout):
		return "", ErrCallbackTimeout
	}
}

func (c *CallbackServer) Close() error {
	var closeErr error
	c.closeOnce.Do(func() {
		closeErr = c.server.Close()
	})
	return closeErr
}

func (c *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	token := r.URL.Query().Get("token")

	if state != c.expectedState {
		c.trySendResult(callbackResult{err: ErrStateMismatch})
		http.Error(w, "state mismatch", http.StatusBadRequest)
		return
	}
	if portalError := r.URL.Query().Get("error"); portalError != "" {
		description := r.URL.Query().Get("error_description")
		if description != "" {
			portalError = portalError + ": " + description
		}
		c.trySendResult(callbackResult{err: errors.New(portalError)})
		http.Error(w, "portal error", http.StatusBadRequest)
		return
	}
	if token == "" {
		c.trySendResult(callbackResult{err: fmt.Errorf("%w: callback carried no token", domain.ErrNoAuthToken)})
		http.Error(w, "missing token", http.StatusBadRequest)
		return
	}

	c.trySendResult(callbackResult{token: token})
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Login complete. You can close this window."))
}

func (c *CallbackServer) trySendResult(result callbackResult) {
	c.resultOnce.Do(func() {
		c.resultCh <- result
	})
}
