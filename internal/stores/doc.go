// Package stores persists short-lived single-use challenges (email
// verification and password reset) in Redis.
//
// A challenge is a 256-bit opaque token handed to the user out of band.
// Only its SHA-256 digest is stored. Consume reads and deletes the record
// in one Lua script, so a challenge can be redeemed at most once, and
// issuing a new challenge for the same user and purpose invalidates the
// previous one.
package stores
