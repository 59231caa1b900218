// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/xkilldash9x/rpa-browser/api/schemas"
	"github.com/xkilldash9x/rpa-browser/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	args := m.Called()
	return args.Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Pool() config.PoolConfig {
	args := m.Called()
	return args.Get(0).(config.PoolConfig)
}

func (m *MockConfig) Plugins() config.PluginsConfig {
	args := m.Called()
	return args.Get(0).(config.PluginsConfig)
}

func (m *MockConfig) Live() config.LiveConfig {
	args := m.Called()
	return args.Get(0).(config.LiveConfig)
}

func (m *MockConfig) Server() config.ServerConfig {
	args := m.Called()
	return args.Get(0).(config.ServerConfig)
}

// --- Setters ---

func (m *MockConfig) SetBrowserHeadless(b bool)   { m.Called(b) }
func (m *MockConfig) SetBrowserExecPath(p string) { m.Called(p) }
func (m *MockConfig) SetServerAddr(addr string)   { m.Called(addr) }

// -- Profile Store Mocks --

// MockProfileStore mocks schemas.ProfileStore.
type MockProfileStore struct {
	mock.Mock
}

var _ schemas.ProfileStore = (*MockProfileStore)(nil)

func (m *MockProfileStore) Lookup(ctx context.Context, token schemas.BrowserToken) (*schemas.Profile, error) {
	args := m.Called(ctx, token)
	if p, ok := args.Get(0).(*schemas.Profile); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

// MockProfileRepository mocks schemas.ProfileRepository for the HTTP layer.
type MockProfileRepository struct {
	MockProfileStore
}

var _ schemas.ProfileRepository = (*MockProfileRepository)(nil)

func (m *MockProfileRepository) Create(ctx context.Context, p *schemas.Profile) (*schemas.Profile, error) {
	args := m.Called(ctx, p)
	if out, ok := args.Get(0).(*schemas.Profile); ok {
		return out, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProfileRepository) Update(ctx context.Context, token schemas.BrowserToken, patch schemas.ProfilePatch) (*schemas.Profile, error) {
	args := m.Called(ctx, token, patch)
	if out, ok := args.Get(0).(*schemas.Profile); ok {
		return out, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProfileRepository) Delete(ctx context.Context, token schemas.BrowserToken) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

// StaticProfiles is a map-backed ProfileStore for tests that do not assert calls.
type StaticProfiles map[schemas.BrowserToken]*schemas.Profile

func (s StaticProfiles) Lookup(_ context.Context, token schemas.BrowserToken) (*schemas.Profile, error) {
	p, ok := s[token]
	if !ok {
		return nil, schemas.ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}
