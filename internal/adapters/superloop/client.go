package superloop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/thatwebagency/ha-superloop/internal/domain"
)

const (
	DefaultBaseURL     = "https://webservices.myexetel.exetel.com.au/api"
	DefaultJWTLoginURL = "https://webservices-api.superloop.com/v1/login-jwt"

	loginPath       = "/auth/token"
	refreshPath     = "/auth/token/refresh"
	verify2FAPath   = "/auth/verify2fa"
	servicesPath    = "/getServices"
	dailyUsagePath  = "/getBroadbandDailyUsage"
	loginBrand      = "superloop"
	maxResponseBody = 1 << 20
)

type Config struct {
	BaseURL        string
	JWTLoginURL    string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
}

// Client speaks the Superloop account API. Every call carries a bounded
// timeout; transport failures surface as domain.ErrCannotConnect and
// authorization rejections as the matching domain sentinel.
type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.JWTLoginURL == "" {
		cfg.JWTLoginURL = DefaultJWTLoginURL
	}

	return &Client{cfg: cfg}
}

func (c *Client) Login(ctx context.Context, email, password string) (TokenGrant, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return TokenGrant{}, errors.New("email and password are required")
	}

	endpoint, err := buildAPIURL(c.cfg.BaseURL, loginPath)
	if err != nil {
		return TokenGrant{}, err
	}

	body := map[string]any{
		"username":     email,
		"password":     password,
		"brand":        loginBrand,
		"persistLogin": true,
	}

	resp, status, err := c.postJSON(ctx, endpoint, body)
	if err != nil {
		return TokenGrant{}, fmt.Errorf("login: %w", err)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return TokenGrant{}, fmt.Errorf("login: %w: %s", domain.ErrInvalidAuth, decodeAPIError(resp))
	case status < http.StatusOK || status >= http.StatusMultipleChoices:
		return TokenGrant{}, fmt.Errorf("login: status %d: %s", status, decodeAPIError(resp))
	}

	return c.grantFromResponse(resp, time.Now())
}

func (c *Client) VerifyTwoFactor(ctx context.Context, challengeID, code string) (TokenGrant, error) {
	if challengeID == "" {
		return TokenGrant{}, errors.New("challenge id is required")
	}
	if strings.TrimSpace(code) == "" {
		return TokenGrant{}, fmt.Errorf("verify 2fa: %w: empty code", domain.ErrInvalidVerificationCode)
	}

	endpoint, err := buildAPIURL(c.cfg.BaseURL, verify2FAPath)
	if err != nil {
		return TokenGrant{}, err
	}

	body := map[string]any{
		"challengeId": challengeID,
		"code":        strings.TrimSpace(code),
	}

	resp, status, err := c.postJSON(ctx, endpoint, body)
	if err != nil {
		return TokenGrant{}, fmt.Errorf("verify 2fa: %w", err)
	}

	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return TokenGrant{}, fmt.Errorf("verify 2fa: %w: %s", domain.ErrInvalidVerificationCode, decodeAPIError(resp))
	case status < http.StatusOK || status >= http.StatusMultipleChoices:
		// Expired or unknown challenge, not a bad code.
		return TokenGrant{}, fmt.Errorf("verify 2fa: %w: status %d: %s", domain.ErrVerificationFailed, status, decodeAPIError(resp))
	}

	return c.grantFromResponse(resp, time.Now())
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (TokenGrant, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return TokenGrant{}, fmt.Errorf("refresh: %w: empty refresh token", domain.ErrInvalidAuth)
	}

	endpoint, err := buildAPIURL(c.cfg.BaseURL, refreshPath)
	if err != nil {
		return TokenGrant{}, err
	}

	resp, status, err := c.postJSON(ctx, endpoint, map[string]any{"refreshToken": refreshToken})
	if err != nil {
		return TokenGrant{}, fmt.Errorf("refresh: %w", err)
	}

	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return TokenGrant{}, fmt.Errorf("refresh: %w: status %d: %s", domain.ErrInvalidAuth, status, decodeAPIError(resp))
	}

	return c.grantFromResponse(resp, time.Now())
}

// LoginJWT exchanges a browser-obtained session token for a long-lived API
// session. Unlike the legacy login this path never demands a verification
// code.
func (c *Client) LoginJWT(ctx context.Context, browserToken string) (TokenGrant, error) {
	if strings.TrimSpace(browserToken) == "" {
		return TokenGrant{}, fmt.Errorf("jwt login: %w", domain.ErrNoAuthToken)
	}

	resp, status, err := c.postJSON(ctx, c.cfg.JWTLoginURL, map[string]any{"token": browserToken})
	if err != nil {
		return TokenGrant{}, fmt.Errorf("jwt login: %w", err)
	}

	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return TokenGrant{}, fmt.Errorf("jwt login: %w: status %d: %s", domain.ErrNoAuthToken, status, decodeAPIError(resp))
	}

	grant, err := c.grantFromResponse(resp, time.Now())
	if err != nil {
		return TokenGrant{}, fmt.Errorf("jwt login: %w: %v", domain.ErrNoAuthToken, err)
	}

	return grant, nil
}

func (c *Client) GetServices(ctx context.Context, accessToken, customerID string) (ServicesResponse, error) {
	if customerID == "" {
		return ServicesResponse{}, errors.New("customer id is required")
	}

	endpoint, err := buildAPIURL(c.cfg.BaseURL, servicesPath+"/"+url.PathEscape(customerID))
	if err != nil {
		return ServicesResponse{}, err
	}

	body, status, err := c.getJSON(ctx, endpoint, accessToken)
	if err != nil {
		return ServicesResponse{}, fmt.Errorf("get services: %w", err)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ServicesResponse{}, fmt.Errorf("get services: %w: %s", domain.ErrInvalidAuth, decodeAPIError(body))
	case status < http.StatusOK || status >= http.StatusMultipleChoices:
		return ServicesResponse{}, fmt.Errorf("get services: status %d: %s", status, decodeAPIError(body))
	}

	var services ServicesResponse
	if err := json.Unmarshal(body, &services); err != nil {
		return ServicesResponse{}, fmt.Errorf("get services: %w: %v", domain.ErrMalformedPayload, err)
	}

	return services, nil
}

func (c *Client) GetDailyUsage(ctx context.Context, accessToken, serviceID string) (DailyUsageResponse, error) {
	if serviceID == "" {
		return DailyUsageResponse{}, errors.New("service id is required")
	}

	endpoint, err := buildAPIURL(c.cfg.BaseURL, dailyUsagePath+"/"+url.PathEscape(serviceID))
	if err != nil {
		return DailyUsageResponse{}, err
	}

	body, status, err := c.getJSON(ctx, endpoint, accessToken)
	if err != nil {
		return DailyUsageResponse{}, fmt.Errorf("get daily usage: %w", err)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return DailyUsageResponse{}, fmt.Errorf("get daily usage: %w: %s", domain.ErrInvalidAuth, decodeAPIError(body))
	case status < http.StatusOK || status >= http.StatusMultipleChoices:
		return DailyUsageResponse{}, fmt.Errorf("get daily usage: status %d: %s", status, decodeAPIError(body))
	}

	var usage DailyUsageResponse
	if err := json.Unmarshal(body, &usage); err != nil {
		return DailyUsageResponse{}, fmt.Errorf("get daily usage: %w: %v", domain.ErrMalformedPayload, err)
	}

	return usage, nil
}

func (c *Client) grantFromResponse(body []byte, now time.Time) (TokenGrant, error) {
	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return TokenGrant{}, fmt.Errorf("decode token response: %w", err)
	}

	if resp.TwoFactorRequired {
		if resp.ChallengeID == "" {
			return TokenGrant{}, errors.New("two-factor response missing challenge id")
		}
		return TokenGrant{
			TwoFactor: &domain.PendingTwoFactor{
				ChallengeID:     resp.ChallengeID,
				DestinationHint: resp.Destination,
				CreatedAt:       now,
			},
		}, nil
	}

	accessToken := resp.Token
	if accessToken == "" {
		accessToken = resp.AccessToken
	}
	if accessToken == "" {
		return TokenGrant{}, errors.New("token response missing access token")
	}

	expiresAt := time.Time{}
	if resp.ExpiresIn > 0 {
		expiresAt = now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	} else {
		expiresAt = jwtExpiry(accessToken)
	}

	return TokenGrant{
		Session: domain.AuthSession{
			AccessToken: accessToken,
			ObtainedAt:  now,
			ExpiresAt:   expiresAt,
		},
		RefreshToken: resp.RefreshToken,
		CustomerID:   resp.CustomerID.String(),
	}, nil
}

// jwtExpiry reads the exp claim without verifying the signature; the token
// only needs a client-side lifetime estimate, the API remains authoritative.
func jwtExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}

	return exp.Time
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload any) ([]byte, int, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("encode request body: %w", err)
	}

	requestCtx, cancel := c.requestContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

func (c *Client) getJSON(ctx context.Context, endpoint, accessToken string) ([]byte, int, error) {
	requestCtx, cancel := c.requestContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", domain.ErrCannotConnect, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: read response: %v", domain.ErrCannotConnect, err)
	}

	return body, resp.StatusCode, nil
}

func (c *Client) httpClient() *http.Client {
	if c.cfg.HTTPClient != nil {
		return c.cfg.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}

	requestTimeout := c.cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}

	return context.WithTimeout(ctx, requestTimeout)
}

func decodeAPIError(body []byte) string {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err != nil {
		return strings.TrimSpace(string(body))
	}
	if apiErr.Message != "" {
		return apiErr.Message
	}
	if apiErr.Error != "" {
		return apiErr.Error
	}

	return strings.TrimSpace(string(body))
}

func buildAPIURL(baseURL string, path string) (string, error) {
	if baseURL == "" {
		return "", errors.New("api base url is required")
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse api base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("api base url must use http or https")
	}
	if parsed.Host == "" {
		return "", errors.New("api base url host is required")
	}

	return strings.TrimRight(parsed.String(), "/") + path, nil
}
