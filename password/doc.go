// Package password hashes and verifies OAuth client secrets with Argon2id.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.NeedsUpgrade] reports hashes produced with weaker parameters so a
// client registry can re-hash on the next successful token exchange.
//
// # What this package must NOT do
//
//   - Store or retrieve secrets; callers supply plaintext and receive hashes.
//   - Import any other goAccess package.
//   - Log plaintext secrets.
package password
