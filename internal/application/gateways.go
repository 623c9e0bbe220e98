package application

import (
	"context"

	"github.com/thatwebagency/ha-superloop/internal/adapters/superloop"
)

// AuthGateway covers every token-issuing call against the provider.
type AuthGateway interface {
	Login(ctx context.Context, email, password string) (superloop.TokenGrant, error)
	VerifyTwoFactor(ctx context.Context, challengeID, code string) (superloop.TokenGrant, error)
	Refresh(ctx context.Context, refreshToken string) (superloop.TokenGrant, error)
	LoginJWT(ctx context.Context, browserToken string) (superloop.TokenGrant, error)
}

// ServiceGateway covers the authenticated data calls.
type ServiceGateway interface {
	GetServices(ctx context.Context, accessToken, customerID string) (superloop.ServicesResponse, error)
	GetDailyUsage(ctx context.Context, accessToken, serviceID string) (superloop.DailyUsageResponse, error)
}
