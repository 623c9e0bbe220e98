package domain

import "time"

// AuthSession is a provider access token with its known lifetime. A zero
// ExpiresAt means the expiry is unknown: the session is assumed valid until
// the API rejects it. Sessions are replaced wholesale, never mutated.
type AuthSession struct {
	AccessToken string
	ObtainedAt  time.Time
	ExpiresAt   time.Time
}

func (s AuthSession) Expired(now time.Time) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}

	return !now.Before(s.ExpiresAt)
}

// PendingTwoFactor is the transient state between a login attempt that
// triggered a verification challenge and the code submission that resolves it.
type PendingTwoFactor struct {
	ChallengeID     string
	DestinationHint string
	CreatedAt       time.Time
}
