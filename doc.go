// Package authclient is the client side of account authentication: it keeps
// the signed-in state of a process in sync with a remote identity backend and
// runs the password recovery flow started from an emailed link.
//
// [Manager] owns the canonical [State]. Sign-in, sign-up, sign-out and backend
// session-change notifications all funnel through one closed set of
// transitions, so there is a single code path for how state changes. Build a
// Manager with [New] and [Builder.Build]; the identity service is supplied as
// a [Backend] (the backend/gotrue package provides one).
//
// [RecoveryFlow] drives a recovery link from extraction to completion. It
// asks its host for two navigation capabilities through [NavigationHost]
// rather than implementing them.
//
// [AttemptGuard] locks a flow after repeated failures without contacting the
// backend while locked.
//
// # Architecture boundaries
//
// authclient is the public surface. Link parsing, attempt counting, flow
// orchestration, audit dispatch and metrics live under internal/ and are not
// exported.
//
// # What this package must NOT do
//
//   - Surface raw backend error text to users. Use [UserMessage].
//   - Let anything other than Manager write State.
//   - Retain a recovery credential after it was exchanged.
package authclient
