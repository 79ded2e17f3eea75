// Package password scores candidate passwords and remembers rejected ones.
//
// # Assessment
//
// [Policy.Assess] is a pure function. Five positive rules (length, uppercase,
// lowercase, digit, special character) each add a point; three penalty rules
// (repeated characters, blocklisted words or sequences, the user's email local
// part) each remove one. A password is valid only when every positive rule
// holds and no penalty matched.
//
// Comparing the new password against the current one is the caller's job.
//
// # History
//
// [History] keeps Argon2id digests in PHC string form:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// # What this package must NOT do
//
//   - Perform network calls or touch any store.
//   - Import any other authclient package.
//   - Log plaintext passwords.
package password
