package service

import "errors"

// Service-level sentinels. Handlers map these onto HTTP status codes; the
// repositories' storage errors never cross this boundary.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidAddress     = errors.New("invalid address")
	ErrDuplicateHandle    = errors.New("handle already registered")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrDuplicatePAN       = errors.New("pan already registered")
	ErrAccountNotFound    = errors.New("account not found")
	ErrReferralNotFound   = errors.New("referral code not found")
	ErrKYCNotFound        = errors.New("kyc record not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotVerified        = errors.New("phone number is not verified")
	ErrRateLimited        = errors.New("too many requests")
	ErrLookupUnavailable  = errors.New("lookup provider unavailable")
)
