package middleware

import (
	"context"
	"errors"
	"net/http"

	authclient "github.com/MrEthical07/authclient"
)

// ErrNoManager is returned by a Resolver when the request carries no session.
var ErrNoManager = errors.New("middleware: no manager for request")

// Resolver returns the Manager owning the request's session.
type Resolver func(r *http.Request) (*authclient.Manager, error)

// Requirement is the minimum state a gate admits.
type Requirement uint8

const (
	Authenticated Requirement = iota + 1
	Confirmed
)

// Options customise how rejected requests are answered. A nil handler falls
// back to a plain-text status response.
type Options struct {
	// Unauthenticated answers requests without a signed-in user.
	Unauthenticated http.Handler
	// Unconfirmed answers signed-in users whose email is not confirmed.
	Unconfirmed http.Handler
}

type stateContextKey struct{}

// StateFromContext returns the State the gate admitted the request with.
func StateFromContext(ctx context.Context) (authclient.State, bool) {
	st, ok := ctx.Value(stateContextKey{}).(authclient.State)
	return st, ok
}

// Guard admits requests whose Manager state meets req.
func Guard(resolve Resolver, req Requirement, opts Options) func(http.Handler) http.Handler {
	unauthenticated := opts.Unauthenticated
	if unauthenticated == nil {
		unauthenticated = statusHandler(http.StatusUnauthorized, "unauthorized")
	}
	unconfirmed := opts.Unconfirmed
	if unconfirmed == nil {
		unconfirmed = statusHandler(http.StatusForbidden, "email not confirmed")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if resolve == nil {
				unauthenticated.ServeHTTP(w, r)
				return
			}

			m, err := resolve(r)
			if err != nil || m == nil {
				unauthenticated.ServeHTTP(w, r)
				return
			}

			if err := m.Ready(r.Context()); err != nil {
				if errors.Is(err, authclient.ErrManagerClosed) {
					unauthenticated.ServeHTTP(w, r)
					return
				}
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}

			st := m.State()
			if !st.IsAuthenticated {
				if st.Error != "" {
					// The session could not be determined.
					http.Error(w, st.Error, http.StatusServiceUnavailable)
					return
				}
				unauthenticated.ServeHTTP(w, r)
				return
			}
			if req == Confirmed && !st.IsEmailConfirmed {
				unconfirmed.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), stateContextKey{}, st)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuthenticated admits signed-in users.
func RequireAuthenticated(resolve Resolver, opts Options) func(http.Handler) http.Handler {
	return Guard(resolve, Authenticated, opts)
}

// RequireConfirmed admits signed-in users with a confirmed email address.
func RequireConfirmed(resolve Resolver, opts Options) func(http.Handler) http.Handler {
	return Guard(resolve, Confirmed, opts)
}

// RedirectTo answers with a 303 to path, e.g. the sign-in page.
func RedirectTo(path string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, path, http.StatusSeeOther)
	})
}

func statusHandler(status int, msg string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, msg, status)
	})
}
