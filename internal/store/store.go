package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xkilldash9x/rpa-browser/api/schemas"
	"go.uber.org/zap"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const (
	sqlCreateTable = `
        CREATE TABLE IF NOT EXISTS fingerprint_profiles (
            browser_token UUID PRIMARY KEY,
            seed INTEGER NOT NULL,
            platform TEXT NOT NULL DEFAULT 'windows',
            platform_version TEXT NOT NULL DEFAULT '',
            browser TEXT NOT NULL DEFAULT '',
            brand_version TEXT NOT NULL DEFAULT '',
            hardware_concurrency INTEGER NOT NULL DEFAULT 0,
            gpu_vendor TEXT NOT NULL DEFAULT '',
            gpu_renderer TEXT NOT NULL DEFAULT '',
            lang TEXT NOT NULL DEFAULT '',
            accept_lang TEXT NOT NULL DEFAULT '',
            timezone TEXT NOT NULL DEFAULT '',
            proxy_server TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL
        );
    `
	sqlSelectProfile = `
        SELECT browser_token, seed, platform, platform_version, browser, brand_version,
               hardware_concurrency, gpu_vendor, gpu_renderer, lang, accept_lang,
               timezone, proxy_server, created_at, updated_at
        FROM fingerprint_profiles
        WHERE browser_token = $1;
    `
	sqlInsertProfile = `
        INSERT INTO fingerprint_profiles (browser_token, seed, platform, platform_version, browser,
            brand_version, hardware_concurrency, gpu_vendor, gpu_renderer, lang, accept_lang,
            timezone, proxy_server, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15);
    `
	sqlUpdateProfile = `
        UPDATE fingerprint_profiles SET
            seed = $2, platform = $3, platform_version = $4, browser = $5, brand_version = $6,
            hardware_concurrency = $7, gpu_vendor = $8, gpu_renderer = $9, lang = $10,
            accept_lang = $11, timezone = $12, proxy_server = $13, updated_at = $14
        WHERE browser_token = $1;
    `
	sqlDeleteProfile = `DELETE FROM fingerprint_profiles WHERE browser_token = $1;`
)

// Store is the PostgreSQL implementation of schemas.ProfileRepository.
type Store struct {
	pool DBPool
	log  *zap.Logger
	now  func() time.Time
}

var _ schemas.ProfileRepository = (*Store)(nil)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
		now:  time.Now,
	}, nil
}

// EnsureSchema creates the profile table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sqlCreateTable); err != nil {
		return fmt.Errorf("failed to create fingerprint_profiles table: %w", err)
	}
	return nil
}

// Lookup returns the stored profile for token. A missing row yields an error
// wrapping schemas.ErrProfileNotFound.
func (s *Store) Lookup(ctx context.Context, token schemas.BrowserToken) (*schemas.Profile, error) {
	var (
		p                    schemas.Profile
		platform, browser    string
		createdAt, updatedAt time.Time
	)
	err := s.pool.QueryRow(ctx, sqlSelectProfile, token).Scan(
		&p.Token, &p.Seed, &platform, &p.PlatformVersion, &browser, &p.BrandVersion,
		&p.HardwareConcurrency, &p.GPUVendor, &p.GPURenderer, &p.Lang, &p.AcceptLang,
		&p.Timezone, &p.ProxyServer, &createdAt, &updatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("token %s: %w", token, schemas.ErrProfileNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query profile for token %s: %w", token, err)
	}
	p.Platform = schemas.Platform(platform)
	p.Browser = schemas.BrowserBrand(browser)
	p.CreatedAt = createdAt.UTC()
	p.UpdatedAt = updatedAt.UTC()
	return &p, nil
}

// Create validates and inserts p. A nil token is replaced with a fresh one
// and an empty platform defaults to windows.
func (s *Store) Create(ctx context.Context, p *schemas.Profile) (*schemas.Profile, error) {
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
	now := s.now().UTC()
	created.CreatedAt, created.UpdatedAt = now, now

	_, err := s.pool.Exec(ctx, sqlInsertProfile,
		created.Token, created.Seed, string(created.Platform), created.PlatformVersion,
		string(created.Browser), created.BrandVersion, created.HardwareConcurrency,
		created.GPUVendor, created.GPURenderer, created.Lang, created.AcceptLang,
		created.Timezone, created.ProxyServer, created.CreatedAt, created.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert profile %s: %w", created.Token, err)
	}
	s.log.Info("Fingerprint profile created", zap.Stringer("token", created.Token))
	return &created, nil
}

// Update applies patch to the stored profile and writes it back.
func (s *Store) Update(ctx context.Context, token schemas.BrowserToken, patch schemas.ProfilePatch) (*schemas.Profile, error) {
	current, err := s.Lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	patch.Apply(current)
	if err := current.Validate(); err != nil {
		return nil, err
	}
	current.UpdatedAt = s.now().UTC()

	tag, err := s.pool.Exec(ctx, sqlUpdateProfile,
		token, current.Seed, string(current.Platform), current.PlatformVersion,
		string(current.Browser), current.BrandVersion, current.HardwareConcurrency,
		current.GPUVendor, current.GPURenderer, current.Lang, current.AcceptLang,
		current.Timezone, current.ProxyServer, current.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update profile %s: %w", token, err)
	}
	if tag.RowsAffected() == 0 {
		// Deleted between the read and the write.
		return nil, fmt.Errorf("token %s: %w", token, schemas.ErrProfileNotFound)
	}
	return current, nil
}

// Delete removes the profile for token.
func (s *Store) Delete(ctx context.Context, token schemas.BrowserToken) error {
	tag, err := s.pool.Exec(ctx, sqlDeleteProfile, token)
	if err != nil {
		return fmt.Errorf("failed to delete profile %s: %w", token, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("token %s: %w", token, schemas.ErrProfileNotFound)
	}
	s.log.Info("Fingerprint profile deleted", zap.Stringer("token", token))
	return nil
}
