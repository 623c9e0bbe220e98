package domain

import (
	"errors"
	"strings"
	"time"
)

type AccountID string

type LoginMethod string

const (
	LoginMethodPassword LoginMethod = "password"
	LoginMethodBrowser  LoginMethod = "browser_jwt"
)

// Account is the durable configuration for one monitored Superloop service.
// Access tokens and usage snapshots are deliberately absent: they are
// reconstructed on the first refresh after a restart.
type Account struct {
	ID               AccountID
	Email            string
	Method           LoginMethod
	CustomerID       string
	ServiceID        string
	SecretRef        string
	RefreshSecretRef string
	CreatedAt        time.Time
}

// Credentials is the durable identity used to (re-)authenticate. Exactly one
// form is active: email/password for the legacy login, or a browser-obtained
// session token for the delegated JWT login.
type Credentials struct {
	Method       LoginMethod `json:"method"`
	Email        string      `json:"email,omitempty"`
	Password     string      `json:"password,omitempty"`
	BrowserToken string      `json:"browser_token,omitempty"`
}

func (c Credentials) Validate() error {
	switch c.Method {
	case LoginMethodPassword:
		if strings.TrimSpace(c.Email) == "" || c.Password == "" {
			return errors.New("password credentials require email and password")
		}
		if c.BrowserToken != "" {
			return errors.New("password credentials must not carry a browser token")
		}
	case LoginMethodBrowser:
		if strings.TrimSpace(c.BrowserToken) == "" {
			return errors.New("browser credentials require a session token")
		}
		if c.Password != "" {
			return errors.New("browser credentials must not carry a password")
		}
	default:
		return errors.New("unknown login method")
	}

	return nil
}
