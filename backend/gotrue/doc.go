// Package gotrue implements authclient.Backend against a GoTrue-compatible
// auth service over its REST API.
//
// Tokens are kept in a session.Store, so a Client built over a keyring or
// Redis store survives restarts. RunFeed optionally follows a websocket push
// feed for sign-outs made elsewhere.
package gotrue
