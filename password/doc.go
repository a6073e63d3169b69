// Package password hashes and verifies passwords with Argon2id and
// enforces the password strength policy.
//
// Hashes are PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// NeedsRehash reports hashes produced with weaker parameters so callers
// can upgrade them after a successful login.
package password
