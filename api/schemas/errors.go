package schemas

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is the root of every "nothing stored/live under this key" failure.
	ErrNotFound = errors.New("not found")
	// ErrProfileNotFound means no fingerprint profile is stored for a token.
	ErrProfileNotFound = fmt.Errorf("fingerprint profile %w", ErrNotFound)
	// ErrSessionNotFound means the pool holds no live session for a token.
	ErrSessionNotFound = fmt.Errorf("browser session %w", ErrNotFound)
	// ErrLiveNotFound means no live-view entry exists for an id.
	ErrLiveNotFound = fmt.Errorf("live session %w", ErrNotFound)
	// ErrInvalidProfile is returned by Profile.Validate.
	ErrInvalidProfile = errors.New("invalid fingerprint profile")
)

// LaunchError reports that the driver could not start a browser for a token.
// It is fatal for the request and never retried by the pool.
type LaunchError struct {
	Token BrowserToken
	Err   error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch browser for token %s: %v", e.Token, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }
