// Package jwt reads recovery access tokens issued by the identity backend.
//
// The client never issues tokens. An [Inspector] extracts the subject, email
// and expiry of a recovery token so the recovery flow can fail closed on an
// expired link and detect whether the link belongs to the account that is
// already signed in. When a verification key is configured the signature is
// checked; otherwise claims are read without verification and only used as
// hints, with the identity backend remaining the authority.
package jwt
