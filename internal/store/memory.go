package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xkilldash9x/rpa-browser/api/schemas"
	"go.uber.org/zap"
)

// Memory is an ephemeral, map-backed ProfileRepository. It applies the same
// defaults and validation as Store. Profiles are lost when the process exits.
type Memory struct {
	mu       sync.RWMutex
	profiles map[schemas.BrowserToken]schemas.Profile
	log      *zap.Logger
	now      func() time.Time
}

var _ schemas.ProfileRepository = (*Memory)(nil)

// NewMemory creates an empty in-memory repository.
func NewMemory(logger *zap.Logger) *Memory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{
		profiles: make(map[schemas.BrowserToken]schemas.Profile),
		log:      logger.Named("memory_store"),
		now:      time.Now,
	}
}

func (m *Memory) Lookup(ctx context.Context, token schemas.BrowserToken) (*schemas.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[token]
	if !ok {
		return nil, fmt.Errorf("token %s: %w", token, schemas.ErrProfileNotFound)
	}
	return &p, nil
}

func (m *Memory) Create(ctx context.Context, p *schemas.Profile) (*schemas.Profile, error) {
	created := *p
	if created.Token == uuid.Nil {
		created.Token = uuid.New()
	}
	if created.Platform == "" {
		created.Platform = schemas.PlatformWindows
	}
	if err := created.Validate(); err != nil {
		return nil, err
	}
	now := m.now().UTC()
	created.CreatedAt, created.UpdatedAt = now, now

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.profiles[created.Token]; exists {
		return nil, fmt.Errorf("failed to insert profile %s: token already exists", created.Token)
	}
	m.profiles[created.Token] = created
	m.log.Debug("Fingerprint profile created", zap.Stringer("token", created.Token))
	return &created, nil
}

func (m *Memory) Update(ctx context.Context, token schemas.BrowserToken, patch schemas.ProfilePatch) (*schemas.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.profiles[token]
	if !ok {
		return nil, fmt.Errorf("token %s: %w", token, schemas.ErrProfileNotFound)
	}
	patch.Apply(&current)
	if err := current.Validate(); err != nil {
		return nil, err
	}
	current.UpdatedAt = m.now().UTC()
	m.profiles[token] = current
	return &current, nil
}

func (m *Memory) Delete(ctx context.Context, token schemas.BrowserToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[token]; !ok {
		return fmt.Errorf("token %s: %w", token, schemas.ErrProfileNotFound)
	}
	delete(m.profiles, token)
	return nil
}
