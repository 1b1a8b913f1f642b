// Package password hashes and verifies long-term secrets.
//
// New hashes use bcrypt (cost 12 by default). Argon2id hashes in PHC string
// format are still accepted by [Verifier.Verify] so stores migrated from an
// argon2 deployment keep working:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Verifier.NeedsRehash] reports hashes produced with a different algorithm
// or weaker parameters so the caller can re-hash after a successful login.
//
// This package never stores or logs passwords. Policy beyond the byte-length
// bounds is owned by the caller.
package password
