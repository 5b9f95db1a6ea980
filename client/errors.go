package client

import "errors"

var (
	// ErrRejected is returned by Authenticate when the server refuses the
	// identity. The session stays usable for another attempt.
	ErrRejected = errors.New("identity rejected")

	ErrInvalidIdentity = errors.New("invalid identity")

	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrNoLink means there is no established private link with the peer.
	ErrNoLink = errors.New("no private link")

	// ErrConnectionLost is returned by Run when the server goes away without
	// the session having disconnected.
	ErrConnectionLost = errors.New("connection to server lost")

	ErrUnexpectedMessage = errors.New("unexpected message")
)
