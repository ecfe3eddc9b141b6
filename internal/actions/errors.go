package actions

import "errors"

// Error taxonomy shared by every operation of the package. The HTTP layer
// maps these onto status codes with errors.Is; everything else wraps them
// with context via fmt.Errorf("%w: ...").
var (
	// ErrBadRequest covers malformed filter grammar and invalid payloads.
	ErrBadRequest = errors.New("bad request")
	// ErrUnauthorized covers public-surface requests for privileged data.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden covers attempts to modify an already-elapsed announcement.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound covers mod/del requests for unknown announcement ids.
	ErrNotFound = errors.New("not found")
	// ErrStorage covers failures of the durable medium; fatal to the
	// triggering request only, never to the process.
	ErrStorage = errors.New("storage failure")
)
