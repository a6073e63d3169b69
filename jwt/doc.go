// Package jwt issues and verifies stateless HS256 access tokens.
//
// Every token carries sub, iat, exp, jti and role claims. The jti is a
// fresh random UUID per token and is the key used by the revocation
// registry. Extraction helpers verify the signature but skip time
// validation so that an expired token can still be blacklisted.
package jwt
