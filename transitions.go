package authclient

// State is the canonical authentication snapshot. Every transition installs a
// new State; fields are never written individually.
//
// IsAuthenticated is true iff User is non-nil, and IsEmailConfirmed is true
// iff User carries a confirmation timestamp. Both hold by construction.
type State struct {
	User             *User
	IsAuthenticated  bool
	IsEmailConfirmed bool
	IsLoading        bool
	// Error is the user-facing message of the last failed operation.
	Error string
}

// initialState is the snapshot before the first session fetch completes.
func initialState() State {
	return State{IsLoading: true}
}

type actionKind uint8

const (
	actOpStarted actionKind = iota + 1
	actSignedIn
	actSignedOut
	actOpFailed
	actSessionLoaded
	actInitFailed
	actErrorCleared
	actUserUpdated
)

func (k actionKind) String() string {
	switch k {
	case actOpStarted:
		return "op_started"
	case actSignedIn:
		return "signed_in"
	case actSignedOut:
		return "signed_out"
	case actOpFailed:
		return "op_failed"
	case actSessionLoaded:
		return "session_loaded"
	case actInitFailed:
		return "init_failed"
	case actErrorCleared:
		return "error_cleared"
	case actUserUpdated:
		return "user_updated"
	default:
		return "unknown"
	}
}

// action is one named transition with its payload.
type action struct {
	kind    actionKind
	user    *User
	message string
}

func opStarted() action { return action{kind: actOpStarted} }
func signedIn(u *User) action { return action{kind: actSignedIn, user: u} }
func signedOut() action { return action{kind: actSignedOut} }
func opFailed(msg string) action { return action{kind: actOpFailed, message: msg} }
func sessionLoaded(u *User) action { return action{kind: actSessionLoaded, user: u} }
func initFailed(msg string) action { return action{kind: actInitFailed, message: msg} }
func errorCleared() action { return action{kind: actErrorCleared} }
func userUpdated(u *User) action { return action{kind: actUserUpdated, user: u} }

// reduce is the only place a State is derived. It is total: every action is
// defined for every state. It returns s itself when nothing changes.
func reduce(s State, a action) State {
	switch a.kind {
	case actOpStarted:
		next := s
		next.IsLoading = true
		next.Error = ""
		return next

	case actSignedIn:
		if a.user == nil {
			return unauthenticated("")
		}
		return authenticated(a.user, "")

	case actSignedOut:
		return unauthenticated("")

	case actOpFailed, actInitFailed:
		return unauthenticated(a.message)

	case actSessionLoaded:
		if a.user == nil {
			return unauthenticated("")
		}
		return authenticated(a.user, "")

	case actErrorCleared:
		if s.Error == "" {
			return s
		}
		next := s
		next.Error = ""
		return next

	case actUserUpdated:
		// Refresh and profile notifications cannot authenticate anyone.
		if !s.IsAuthenticated || a.user == nil {
			return s
		}
		next := authenticated(a.user, s.Error)
		next.IsLoading = s.IsLoading
		return next

	default:
		return s
	}
}

func authenticated(u *User, errMsg string) State {
	user := u.Clone()
	return State{
		User:             user,
		IsAuthenticated:  true,
		IsEmailConfirmed: user.EmailConfirmedAt != nil,
		IsLoading:        false,
		Error:            errMsg,
	}
}

func unauthenticated(errMsg string) State {
	return State{Error: errMsg}
}
