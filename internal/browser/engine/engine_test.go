package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/rpa-browser/api/schemas"
	"github.com/xkilldash9x/rpa-browser/internal/mocks"
	"go.uber.org/zap/zaptest"
)

func fullProfile(token schemas.BrowserToken) *schemas.Profile {
	return &schemas.Profile{
		Token:               token,
		Seed:                987654,
		Platform:            schemas.PlatformMacOS,
		PlatformVersion:     "14.2.1",
		Browser:             schemas.BrandChrome,
		BrandVersion:        "124.0.6367.60",
		HardwareConcurrency: 12,
		GPUVendor:           "Apple",
		GPURenderer:         "Apple M2",
		Lang:                "fr-FR",
		AcceptLang:          "fr-FR,fr",
		Timezone:            "Europe/Paris",
		ProxyServer:         "socks5://127.0.0.1:1080",
	}
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestProfileArgs(t *testing.T) {
	p := fullProfile(uuid.New())

	t.Run("linux keeps gpu flags", func(t *testing.T) {
		want := []string{
			"--fingerprint=987654",
			"--fingerprint-platform=macos",
			"--fingerprint-platform-version=14.2.1",
			"--fingerprint-browser=Chrome",
			"--fingerprint-brand-version=124.0.6367.60",
			"--fingerprint-hardware-concurrency=12",
			"--fingerprint-gpu-vendor=Apple",
			"--fingerprint-gpu-renderer=Apple M2",
			"--lang=fr-FR",
			"--accept-lang=fr-FR,fr",
			"--timezone=Europe/Paris",
			"--proxy-server=socks5://127.0.0.1:1080",
		}
		if diff := cmp.Diff(want, ProfileArgs(p, "linux")); diff != "" {
			t.Errorf("ProfileArgs mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("other hosts strip gpu flags silently", func(t *testing.T) {
		for _, goos := range []string{"darwin", "windows"} {
			args := ProfileArgs(p, goos)
			assert.NotContains(t, args, "--fingerprint-gpu-vendor=Apple", goos)
			assert.NotContains(t, args, "--fingerprint-gpu-renderer=Apple M2", goos)
			assert.Len(t, args, 10, goos)
		}
	})

	t.Run("empty fields are skipped", func(t *testing.T) {
		minimal := &schemas.Profile{Seed: 7, Platform: schemas.PlatformWindows}
		want := []string{"--fingerprint=7", "--fingerprint-platform=windows"}
		if diff := cmp.Diff(want, ProfileArgs(minimal, "linux")); diff != "" {
			t.Errorf("ProfileArgs mismatch (-want +got):\n%s", diff)
		}
		assert.Nil(t, ProfileArgs(nil, "linux"))
	})

	t.Run("underscores in values survive", func(t *testing.T) {
		args := ProfileArgs(&schemas.Profile{Seed: 1, Timezone: "America/Los_Angeles"}, "linux")
		assert.Contains(t, args, "--timezone=America/Los_Angeles")
	})
}

func TestMergeArgsOrder(t *testing.T) {
	p := &schemas.Profile{Seed: 3, Lang: "de-DE"}
	args := mergeArgs(p, []string{"--window-size=1280,800"}, "linux")

	base := BaselineArgs()
	require.Greater(t, len(args), len(base))
	if diff := cmp.Diff(base, args[:len(base)]); diff != "" {
		t.Errorf("baseline prefix mismatch (-want +got):\n%s", diff)
	}
	tail := args[len(base):]
	assert.Equal(t, []string{"--window-size=1280,800", "--fingerprint=3", "--lang=de-DE"}, tail)

	// The caller may mutate the result without affecting later launches.
	args[0] = "--mutated"
	assert.Equal(t, "--incognito", BaselineArgs()[0])
}

func TestProfileDir(t *testing.T) {
	token := uuid.New()

	t.Run("joins root and token", func(t *testing.T) {
		root := t.TempDir()
		e, err := New(token, mocks.StaticProfiles{}, &mocks.FakeDriver{}, Options{UserDataRoot: root}, zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, token.String()), e.ProfileDir())
	})

	t.Run("expands home directory", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)
		homedir.DisableCache = true
		t.Cleanup(func() { homedir.DisableCache = false })

		e, err := New(token, mocks.StaticProfiles{}, &mocks.FakeDriver{}, Options{UserDataRoot: "~/profiles"}, zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, "profiles", token.String()), e.ProfileDir())
	})
}

func TestLaunch(t *testing.T) {
	ctx := context.Background()
	token := uuid.New()

	t.Run("passes merged options to the driver", func(t *testing.T) {
		driver := &mocks.FakeDriver{}
		root := t.TempDir()
		e, err := New(token, mocks.StaticProfiles{token: fullProfile(token)}, driver,
			Options{UserDataRoot: root, Headless: true, ExecPath: "/opt/fp-chromium/chrome", ExtraArgs: []string{"--no-sandbox"}},
			zaptest.NewLogger(t), WithGOOS("windows"))
		require.NoError(t, err)

		h, err := e.Launch(ctx)
		require.NoError(t, err)
		require.NotNil(t, h.Context())

		opts := driver.LastOptions()
		assert.Equal(t, e.ProfileDir(), opts.UserDataDir)
		assert.True(t, opts.Headless)
		assert.Equal(t, "/opt/fp-chromium/chrome", opts.ExecPath)
		assert.Contains(t, opts.Args, "--no-sandbox")
		assert.Contains(t, opts.Args, "--fingerprint=987654")
		assert.NotContains(t, opts.Args, "--fingerprint-gpu-vendor=Apple")

		info, err := os.Stat(e.ProfileDir())
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		require.NoError(t, h.Close(ctx))
	})

	t.Run("missing profile does not launch", func(t *testing.T) {
		store := &mocks.MockProfileStore{}
		store.On("Lookup", mock.Anything, token).Return(nil, schemas.ErrProfileNotFound)
		driver := &mocks.FakeDriver{}
		e, err := New(token, store, driver, Options{UserDataRoot: t.TempDir()}, zaptest.NewLogger(t))
		require.NoError(t, err)

		_, err = e.Launch(ctx)
		assert.ErrorIs(t, err, schemas.ErrProfileNotFound)
		assert.Zero(t, driver.Launches())
		store.AssertExpectations(t)
	})

	t.Run("driver failure is a LaunchError", func(t *testing.T) {
		cause := errors.New("chrome not found")
		driver := &mocks.FakeDriver{LaunchErr: cause}
		e, err := New(token, mocks.StaticProfiles{token: fullProfile(token)}, driver, Options{UserDataRoot: t.TempDir()}, zaptest.NewLogger(t))
		require.NoError(t, err)

		_, err = e.Launch(ctx)
		var launchErr *schemas.LaunchError
		require.ErrorAs(t, err, &launchErr)
		assert.Equal(t, token, launchErr.Token)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("launch timeout bounds a hung driver", func(t *testing.T) {
		driver := &mocks.FakeDriver{LaunchDelay: time.Minute}
		e, err := New(token, mocks.StaticProfiles{token: fullProfile(token)}, driver,
			Options{UserDataRoot: t.TempDir(), LaunchTimeout: 20 * time.Millisecond}, zaptest.NewLogger(t))
		require.NoError(t, err)

		_, err = e.Launch(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestHandleClosesOnce(t *testing.T) {
	bctx := mocks.NewFakeContext()
	bctx.CloseErr = errors.New("already gone")
	h := newHandle(bctx)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.Close(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, bctx.Closes())
	assert.True(t, h.Closed())
	assert.EqualError(t, h.Close(context.Background()), "already gone", "later calls report the first result")
}

func TestWithBrowser(t *testing.T) {
	token := uuid.New()
	newEngine := func(t *testing.T) (*Engine, *mocks.FakeDriver) {
		driver := &mocks.FakeDriver{}
		e, err := New(token, mocks.StaticProfiles{token: fullProfile(token)}, driver, Options{UserDataRoot: t.TempDir()}, zaptest.NewLogger(t))
		require.NoError(t, err)
		return e, driver
	}

	t.Run("normal return", func(t *testing.T) {
		e, driver := newEngine(t)
		err := e.WithBrowser(context.Background(), func(ctx context.Context, bctx schemas.BrowserContext) error {
			_, err := bctx.NewPage(ctx)
			return err
		})
		require.NoError(t, err)
		assert.True(t, driver.Contexts()[0].IsClosed())
	})

	t.Run("error from fn", func(t *testing.T) {
		e, driver := newEngine(t)
		boom := errors.New("boom")
		err := e.WithBrowser(context.Background(), func(context.Context, schemas.BrowserContext) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.True(t, driver.Contexts()[0].IsClosed())
	})

	t.Run("panic in fn", func(t *testing.T) {
		e, driver := newEngine(t)
		assert.PanicsWithValue(t, "kaboom", func() {
			_ = e.WithBrowser(context.Background(), func(context.Context, schemas.BrowserContext) error { panic("kaboom") })
		})
		assert.True(t, driver.Contexts()[0].IsClosed())
	})

	t.Run("cancelled context", func(t *testing.T) {
		e, driver := newEngine(t)
		ctx, cancel := context.WithCancel(context.Background())
		err := e.WithBrowser(ctx, func(ctx context.Context, _ schemas.BrowserContext) error {
			cancel()
			<-ctx.Done()
			return ctx.Err()
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.True(t, driver.Contexts()[0].IsClosed())
	})

	t.Run("teardown error surfaces when fn succeeded", func(t *testing.T) {
		driver := &mocks.FakeDriver{OnNewContext: func(c *mocks.FakeContext) { c.CloseErr = errors.New("zombie process") }}
		e, err := New(token, mocks.StaticProfiles{token: fullProfile(token)}, driver, Options{UserDataRoot: t.TempDir()}, zaptest.NewLogger(t))
		require.NoError(t, err)

		err = e.WithBrowser(context.Background(), func(context.Context, schemas.BrowserContext) error { return nil })
		assert.ErrorContains(t, err, "zombie process")
	})
}

func TestActivityTracking(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	e, err := New(uuid.New(), mocks.StaticProfiles{}, &mocks.FakeDriver{}, Options{UserDataRoot: t.TempDir()},
		zaptest.NewLogger(t), WithClock(clock.Now))
	require.NoError(t, err)

	assert.False(t, e.IsInactiveFor(time.Minute))
	clock.Advance(time.Minute)
	assert.False(t, e.IsInactiveFor(time.Minute), "exactly the threshold is not inactive")
	clock.Advance(time.Second)
	assert.True(t, e.IsInactiveFor(time.Minute))

	e.Touch()
	assert.False(t, e.IsInactiveFor(time.Minute))
	assert.Equal(t, clock.Now(), e.LastActivity().UTC())
}
