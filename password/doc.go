// Package password implements password hashing and verification with
// Argon2id.
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.NeedsUpgrade] reports whether a stored hash was produced with
// weaker parameters than the current configuration, so callers can re-hash
// on the next successful verification.
//
// The package owns hashing only. Password policy beyond basic length bounds
// is enforced by the engine, and plaintext never leaves the call stack.
package password
