package jwt

import "github.com/MrEthical07/authcore/autherr"

var (
	// ErrMalformed is returned for tokens that cannot be decoded.
	ErrMalformed = autherr.New(autherr.ErrUnauthorized, "malformed token")
	// ErrBadSignature is returned when the signature or algorithm does not verify.
	ErrBadSignature = autherr.New(autherr.ErrUnauthorized, "bad token signature")
	// ErrExpired is returned for correctly signed tokens past their exp claim.
	ErrExpired = autherr.New(autherr.ErrExpired, "token expired")
	// ErrInvalidClaims is returned for issuer, audience or iat violations.
	ErrInvalidClaims = autherr.New(autherr.ErrUnauthorized, "invalid token claims")
	// ErrWeakSecret is returned when a signing secret is shorter than MinSecretLength.
	ErrWeakSecret = autherr.New(autherr.ErrValidation, "signing secret must be at least 256 bits")
)
