package domain

import "errors"

var (
	ErrInvalidAuth             = errors.New("invalid credentials")
	ErrInvalidVerificationCode = errors.New("invalid verification code")
	ErrVerificationFailed      = errors.New("verification challenge failed")
	ErrNoAuthToken             = errors.New("no auth token received")
	ErrCannotConnect           = errors.New("cannot connect to superloop api")
	ErrMalformedPayload        = errors.New("malformed services payload")
	ErrReauthRequired          = errors.New("reauthentication required")

	ErrAccountNotFound = errors.New("account not found")
	ErrSecretNotFound  = errors.New("secret not found")
)
