package schemas

import (
	"context"
)

// -- Store Interface --

// ProfileStore resolves browser tokens to stored fingerprint profiles.
// Lookup returns an error wrapping ErrProfileNotFound when no record exists.
//
//go:generate mockery --name ProfileStore --output ../../internal/mocks --outpkg mocks
type ProfileStore interface {
	Lookup(ctx context.Context, token BrowserToken) (*Profile, error)
}

// ProfileRepository is the full CRUD surface used by the HTTP layer.
type ProfileRepository interface {
	ProfileStore
	Create(ctx context.Context, p *Profile) (*Profile, error)
	Update(ctx context.Context, token BrowserToken, patch ProfilePatch) (*Profile, error)
	Delete(ctx context.Context, token BrowserToken) error
}
