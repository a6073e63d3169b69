// Package internal holds helpers private to authcore: secure random
// tokens and token digests.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - metrics: metric identifiers shared with the exporters
//   - rate: rolling-window rate limiting on Redis sorted sets
//   - stores: single-use challenge records (email verification, password reset)
package internal
