// Package middleware exposes HTTP middleware on top of
// authcore.Engine.Authenticate.
//
// # Guards
//
//   - [Guard] rejects requests without a valid, unrevoked bearer token
//     and injects the [authcore.Principal] into the request context.
//   - [RequireRole] additionally restricts a route to a set of roles.
//   - [ClientMeta] attaches the client IP and User-Agent so that Login
//     and Refresh handlers record them on refresh tokens and audit events.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT
// implement authentication logic itself: signature checks and the
// blacklist lookup are delegated to the Engine.
package middleware
