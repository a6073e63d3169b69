// Package authcore is the security core of an authentication service:
// HS256 access tokens, rotating opaque refresh tokens, TOTP two-factor
// authentication, an access-token blacklist and failed-login lockout.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the orchestrating surface. It composes the component
// packages and is the only layer that talks to the external
// collaborators: the credential store ([CredentialStore]), the email
// sender ([EmailSender]) and the audit sink ([AuditSink]).
//
//   - jwt signs and verifies access tokens.
//   - lockout applies the failed-login policy through atomic updates on
//     the credential store.
//   - twofactor runs the TOTP and backup-code state machine.
//   - refresh stores refresh tokens and rotates them atomically.
//   - revocation blacklists access-token identifiers.
//
// Redis is the source of truth for every token, window and 2FA record.
// Nothing authoritative is kept in process memory, so several instances
// may share one Redis.
//
// # Per-request path
//
// [Engine.Authenticate] is the hot path: one signature check and one
// Redis read. A blacklist read failure is treated as "not revoked",
// logged and counted; every other storage failure on a call that
// changes security state is returned to the caller.
package authcore
