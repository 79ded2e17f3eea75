// Package audit dispatches authentication audit events asynchronously.
//
// # Components
//
//   - [Sink]: event consumers (channel, JSON writer, slog, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full / block-if-full semantics.
//   - [Event]: audit record with a ULID, type, user, correlation id and metadata.
//
// Events never carry passwords or token material.
//
// # What this package must NOT do
//
//   - Decide which events to emit.
//   - Import authclient or any sibling internal package.
package audit
