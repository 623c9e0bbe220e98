package application

import (
	"context"
	"errors"

	"github.com/thatwebagency/ha-superloop/internal/adapters/superloop"
	"github.com/thatwebagency/ha-superloop/internal/domain"
)

// Fetcher issues authenticated data calls. On an authorization rejection it
// invalidates the session, silently re-authenticates and retries exactly
// once; every other failure propagates untouched so a persistently broken
// account is never masked by retries.
type Fetcher struct {
	sessions *SessionManager
	gateway  ServiceGateway
}

func NewFetcher(sessions *SessionManager, gateway ServiceGateway) *Fetcher {
	return &Fetcher{sessions: sessions, gateway: gateway}
}

func (f *Fetcher) FetchServices(ctx context.Context) (superloop.ServicesResponse, error) {
	var raw superloop.ServicesResponse

	err := f.withSession(ctx, func(session domain.AuthSession) error {
		var err error
		raw, err = f.gateway.GetServices(ctx, session.AccessToken, f.sessions.CustomerID())
		return err
	})

	return raw, err
}

func (f *Fetcher) FetchDailyUsage(ctx context.Context, serviceID string) (superloop.DailyUsageResponse, error) {
	var raw superloop.DailyUsageResponse

	err := f.withSession(ctx, func(session domain.AuthSession) error {
		var err error
		raw, err = f.gateway.GetDailyUsage(ctx, session.AccessToken, serviceID)
		return err
	})

	return raw, err
}

func (f *Fetcher) withSession(ctx context.Context, call func(session domain.AuthSession) error) error {
	session, err := f.sessions.ValidSession(ctx)
	if err != nil {
		return err
	}

	err = call(session)
	if err == nil || !errors.Is(err, domain.ErrInvalidAuth) {
		return err
	}

	f.sessions.Invalidate()
	session, err = f.sessions.ValidSession(ctx)
	if err != nil {
		return err
	}

	return call(session)
}
