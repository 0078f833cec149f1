package services

import (
	"errors"

	"github.com/keygate/keygate-server/src/repositories"
)

// Sentinel errors for explicit error handling
// These errors allow callers to distinguish between different failure modes
// using errors.Is() instead of string matching

var (
	// ErrInvalidKey indicates a custom key with a bad charset or length
	ErrInvalidKey = errors.New("invalid key format")

	// ErrInvalidDuration indicates a negative or zero extension/expiry
	ErrInvalidDuration = errors.New("invalid duration")

	// ErrInvalidUsageLimit indicates a non-positive max usage
	ErrInvalidUsageLimit = errors.New("max usage must be positive")

	// ErrInvalidFunnelConfig indicates a malformed checkpoint entry
	ErrInvalidFunnelConfig = errors.New("invalid funnel configuration")

	// ErrTooManyGroups indicates more step groups than allowed
	ErrTooManyGroups = errors.New("too many step groups")

	// ErrMissingToken indicates a redemption without a token
	ErrMissingToken = errors.New("missing token")

	// ErrTokenRejected indicates the provider said the token is not valid
	ErrTokenRejected = errors.New("token rejected by provider")

	// ErrVerifierUnavailable indicates the provider could not be reached
	ErrVerifierUnavailable = errors.New("token verifier unavailable")

	// ErrInvalidCredentials indicates authentication failed
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidSetting indicates a runtime setting that is not an absolute http(s) URL
	ErrInvalidSetting = errors.New("invalid setting")

	// ErrInvalidScript indicates an empty or oversized script body
	ErrInvalidScript = errors.New("invalid script")

	// ErrScriptNotFound indicates a script id that does not exist
	ErrScriptNotFound = errors.New("script not found")

	// ErrDuplicateKey is re-exported so handlers need not import repositories
	ErrDuplicateKey = repositories.ErrDuplicateKey
)
