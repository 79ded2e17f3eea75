// Package session persists the backend credentials of the signed-in user.
//
// # Binary encoding
//
// [Tokens] are stored as a compact binary record (schema v1–v2). The encoder
// is append-only: new versions add fields but never reinterpret old ones.
//
// # Stores
//
//   - [MemoryStore]: process lifetime only.
//   - [KeyringStore]: OS credential manager, for desktop and CLI hosts.
//   - [RedisStore]: one key per connection scope, for server-rendered hosts.
//
// # What this package must NOT do
//
//   - Import authclient or any backend package.
//   - Interpret token contents.
//   - Log token material.
package session
