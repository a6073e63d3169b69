// Package refresh manages opaque, rotating refresh tokens.
//
// Token values are 256 random bits, base64url encoded. Only their
// SHA-256 digest is stored. Every state change is one Lua script, so two
// concurrent rotations of the same value cannot both succeed.
//
// Tokens created by rotation share a lineage with the token they
// replace. Presenting a token that was rotated more than ReuseGrace ago
// is treated as theft: the whole lineage is revoked and Rotate returns a
// *ReuseError. Within the grace window the presentation is only
// rejected, which keeps racing clients from logging their user out.
//
// When a user reaches MaxActive tokens, Create evicts the oldest one.
package refresh
