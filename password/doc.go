// Package password implements the credential hasher used by the password
// authentication service.
//
// # Hashers
//
//   - [Bcrypt]: default, `$2a$`/`$2b$` modular crypt output.
//   - [Argon2]: Argon2id in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Both satisfy [Hasher]. [Multi] verifies against whichever algorithm produced
// a stored hash so backends can migrate between them.
//
// # Pre-hash digest
//
// A [Digest] optionally transforms the plaintext (for example to a hex sha256)
// before it reaches the hasher. The same digest must be applied on hash and
// verify; [Digest.Apply] is the single place that does it.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Enforce password policy (length, character classes). That belongs to the
//     service's validators.
//   - Import any other goAccounts package.
package password
