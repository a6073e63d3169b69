// Package revocation is the blacklist of access-token identifiers that
// must be rejected despite a valid signature.
//
// IsRevoked is called once per authenticated request. It is a single
// read and fails open: a storage error is logged, counted, and treated
// as "not revoked". Every write fails closed.
//
// Entries keep the expiry of the token they revoke, so Cleanup never
// drops an entry while its token could still be presented.
package revocation
