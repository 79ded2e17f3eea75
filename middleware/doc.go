// Package middleware gates net/http handlers on the authentication state of
// an authclient.Manager.
//
// Hosts that keep one Manager per browser session supply a [Resolver] that
// picks it from the request. The gates wait for the Manager's initial session
// fetch, then either pass the request on with the State in its context or
// answer it themselves.
//
//   - [RequireAuthenticated] needs a signed-in user.
//   - [RequireConfirmed] additionally needs a confirmed email address.
package middleware
