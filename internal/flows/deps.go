package flows

// Deps groups the long-lived flow dependency sets. The Manager builds this
// once; per-flow dependencies (password submission) are built by each
// RecoveryFlow.
type Deps struct {
	Establish EstablishRecoveryDeps
	SignOut   SignOutCleanupDeps
}
