// Package errors defines the failure taxonomy of the sync layer.
//
// Connection errors are recovered locally by reconnecting. Auth errors end the
// session. Malformed or unknown events are logged and dropped. Refetch errors keep
// the cached view. None of them crash consumers.
package errors

import (
	stderrors "errors"
)

var (
	// ErrConnection marks network or handshake failures on the realtime channel.
	ErrConnection = stderrors.New("realtime connection failed")
	// ErrUnauthorized marks a rejected credential (HTTP 401 or handshake refusal).
	ErrUnauthorized = stderrors.New("unauthorized")
	// ErrUnknownEvent marks an inbound frame whose type is not part of the protocol.
	ErrUnknownEvent = stderrors.New("unknown event type")
	// ErrMalformedEvent marks an inbound frame whose payload cannot be decoded.
	ErrMalformedEvent = stderrors.New("malformed event")
	// ErrRefetch marks a failed REST snapshot refresh.
	ErrRefetch = stderrors.New("refetch failed")
	// ErrNoSession is returned by operations that need an authenticated session.
	ErrNoSession = stderrors.New("no active session")
)

// IsStatus returns true if err (or any wrapped error) is an HTTPError with the given status code.
func IsStatus(err error, code int) bool {
	var httpErr *HTTPError
	if stderrors.As(err, &httpErr) {
		return httpErr.StatusCode == code
	}
	return false
}

// IsUnauthorized reports whether err should end the session.
func IsUnauthorized(err error) bool {
	return stderrors.Is(err, ErrUnauthorized)
}
