// Package flows contains the orchestration behind Manager and RecoveryFlow
// operations.
//
// Each flow function (RunEstablishRecovery, RunSubmitRecoveryPassword,
// RunSignOutCleanup) accepts a typed dependency struct of callbacks and holds
// no state between calls. The root package owns the backend, the state
// machine, audit and metrics; flows only sequence calls to them.
//
// # What this package must NOT do
//
//   - Import authclient (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency callbacks.
//   - Write session state. Installing a session happens inside the Exchange
//     callback, through the state machine's own transitions.
package flows
