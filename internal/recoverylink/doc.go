// Package recoverylink extracts one-time recovery credentials from inbound
// password-reset links.
//
// # Link format
//
// Parameters are read from the fragment first, then from the query string:
//
//	access_token=<jwt>&refresh_token=<opaque>&expires_in=3600&token_type=bearer&type=recovery
//
// A link without access_token and type=recovery is not a recovery link and
// yields a nil Bundle. A link carrying error/error_code/error_description was
// already refused by the identity backend and yields ErrLinkRejected.
//
// # What this package must NOT do
//
//   - Exchange tokens or call any backend.
//   - Log token material.
package recoverylink
