package plugins

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/rpa-browser/internal/config"
	"github.com/xkilldash9x/rpa-browser/internal/metrics"
	"github.com/xkilldash9x/rpa-browser/internal/mocks"
	"github.com/xkilldash9x/rpa-browser/internal/rpa/hooks"
	"github.com/xkilldash9x/rpa-browser/internal/rpa/pagemanager"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// flaky fails the first failures invocations, then returns "ok".
func flaky(failures int) (hooks.Operation, *int) {
	calls := 0
	return func(context.Context) (any, error) {
		calls++
		if calls <= failures {
			return nil, fmt.Errorf("attempt %d: net::ERR_TIMED_OUT", calls)
		}
		return "ok", nil
	}, &calls
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds on the k-th attempt", func(t *testing.T) {
		for k := 1; k <= 3; k++ {
			reg := prometheus.NewRegistry()
			m := metrics.New(reg)
			plugin := NewRetry(3, time.Millisecond)(hooks.Deps{Logger: zaptest.NewLogger(t), Metrics: m}).(*Retry)
			pl := hooks.NewPipeline(zaptest.NewLogger(t), m, plugin)

			op, calls := flaky(k - 1)
			call := hooks.NewCall("goto", nil, "https://example.com")
			res, err := pl.Execute(ctx, call, op)

			require.NoError(t, err, "k=%d", k)
			assert.Equal(t, "ok", res)
			assert.Equal(t, k, *calls)
			assert.Equal(t, k, call.Attempts())
			assert.Equal(t, k-1, plugin.Attempts())
			assert.Equal(t, float64(k-1), testutil.ToFloat64(m.Retries.WithLabelValues("goto")))
		}
	})

	t.Run("exhausting attempts returns the final error", func(t *testing.T) {
		plugin := NewRetry(3, 0)(hooks.Deps{}).(*Retry)
		pl := hooks.NewPipeline(zaptest.NewLogger(t), nil, plugin)

		op, calls := flaky(10)
		_, err := pl.Execute(ctx, hooks.NewCall("click", nil), op)
		require.Error(t, err)
		assert.Equal(t, "attempt 3: net::ERR_TIMED_OUT", err.Error())
		assert.Equal(t, 3, *calls)
	})

	t.Run("a single attempt disables retrying", func(t *testing.T) {
		plugin := NewRetry(0, 0)(hooks.Deps{}).(*Retry)
		pl := hooks.NewPipeline(zaptest.NewLogger(t), nil, plugin)

		actionErr := errors.New("boom")
		calls := 0
		_, err := pl.Execute(ctx, hooks.NewCall("click", nil), func(context.Context) (any, error) {
			calls++
			return nil, actionErr
		})
		assert.Same(t, actionErr, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("cancellation stops waiting", func(t *testing.T) {
		plugin := NewRetry(5, time.Hour)(hooks.Deps{}).(*Retry)
		pl := hooks.NewPipeline(zaptest.NewLogger(t), nil, plugin)

		cctx, cancel := context.WithCancel(ctx)
		actionErr := errors.New("boom")
		start := time.Now()
		_, err := pl.Execute(cctx, hooks.NewCall("click", nil), func(context.Context) (any, error) {
			cancel()
			return nil, actionErr
		})
		assert.Same(t, actionErr, err)
		assert.Less(t, time.Since(start), time.Minute)
	})

	t.Run("counter resets for the next action", func(t *testing.T) {
		plugin := NewRetry(3, 0)(hooks.Deps{}).(*Retry)
		pl := hooks.NewPipeline(zaptest.NewLogger(t), nil, plugin)

		op, _ := flaky(2)
		_, err := pl.Execute(ctx, hooks.NewCall("click", nil), op)
		require.NoError(t, err)
		assert.Equal(t, 2, plugin.Attempts())

		_, err = pl.Execute(ctx, hooks.NewCall("click", nil), func(context.Context) (any, error) { return nil, nil })
		require.NoError(t, err)
		assert.Zero(t, plugin.Attempts())
	})
}

func TestRetryThroughPageManager(t *testing.T) {
	bctx := mocks.NewFakeContext()
	fails := 2
	bctx.PageSetup = func(p *mocks.FakePage) {
		p.ActionFunc = func(action string, _ ...any) error {
			if action == "goto" && fails > 0 {
				fails--
				return errors.New("net::ERR_CONNECTION_RESET")
			}
			return nil
		}
	}
	mgr := pagemanager.New(nil, bctx, zaptest.NewLogger(t), nil, NewRetry(3, 0))

	ctx := context.Background()
	page, err := mgr.NewPage(ctx)
	require.NoError(t, err)
	require.NoError(t, page.Goto(ctx, "https://example.com"))
	assert.Equal(t, []string{"goto", "goto", "goto"}, page.Unwrap().(*mocks.FakePage).Calls())
	url, _ := page.URL(ctx)
	assert.Equal(t, "https://example.com", url)
}

func openPages(t *testing.T, bctx *mocks.FakeContext, n int) []*mocks.FakePage {
	t.Helper()
	out := make([]*mocks.FakePage, n)
	for i := range out {
		p, err := bctx.NewPage(context.Background())
		require.NoError(t, err)
		out[i] = p.(*mocks.FakePage)
	}
	return out
}

func TestPageLimit(t *testing.T) {
	ctx := context.Background()

	t.Run("third page closes exactly one existing page", func(t *testing.T) {
		bctx := mocks.NewFakeContext()
		m := metrics.New(prometheus.NewRegistry())
		mgr := pagemanager.New(nil, bctx, zaptest.NewLogger(t), m, NewPageLimit(2))
		pages := openPages(t, bctx, 3)

		page := mgr.Wrap(pages[2])
		require.NoError(t, page.Goto(ctx, "https://example.com"))

		assert.Equal(t, 2, bctx.OpenPages())
		assert.True(t, pages[0].IsClosed(), "the oldest page is closed")
		assert.False(t, pages[1].IsClosed())
		assert.False(t, pages[2].IsClosed(), "the acting page survives")
		assert.Equal(t, 1.0, testutil.ToFloat64(m.PagesClosed))
	})

	t.Run("falls back to the next oldest page", func(t *testing.T) {
		bctx := mocks.NewFakeContext()
		mgr := pagemanager.New(nil, bctx, zaptest.NewLogger(t), nil, NewPageLimit(2))
		pages := openPages(t, bctx, 3)
		pages[0].CloseErr = errors.New("target detached")

		require.NoError(t, mgr.Wrap(pages[2]).Click(ctx, "a"))
		assert.False(t, pages[0].IsClosed())
		assert.True(t, pages[1].IsClosed())
		assert.False(t, pages[2].IsClosed())
	})

	t.Run("below the limit nothing is closed", func(t *testing.T) {
		bctx := mocks.NewFakeContext()
		mgr := pagemanager.New(nil, bctx, zaptest.NewLogger(t), nil, NewPageLimit(3))
		pages := openPages(t, bctx, 2)

		require.NoError(t, mgr.Wrap(pages[1]).Click(ctx, "a"))
		assert.Equal(t, 2, bctx.OpenPages())
	})

	t.Run("popups count toward the limit", func(t *testing.T) {
		bctx := mocks.NewFakeContext()
		mgr := pagemanager.New(nil, bctx, zaptest.NewLogger(t), nil, NewPageLimit(2))
		pages := openPages(t, bctx, 1)
		popup := bctx.OpenPopup("popup-1")

		require.NoError(t, mgr.Wrap(popup).Click(ctx, "a"))
		assert.True(t, pages[0].IsClosed(), "the opener is the oldest page")
		assert.False(t, popup.IsClosed())
		assert.Equal(t, 1, bctx.OpenPages())
	})

	t.Run("stats and force cleanup", func(t *testing.T) {
		bctx := mocks.NewFakeContext()
		plugin := NewPageLimit(2)(hooks.Deps{Context: bctx, Logger: zaptest.NewLogger(t)}).(*PageLimit)
		pages := openPages(t, bctx, 5)
		require.NoError(t, pages[4].Goto(ctx, "https://example.org"))

		assert.Equal(t, 3, plugin.ForceCleanup(ctx))
		assert.Equal(t, 2, bctx.OpenPages())
		assert.True(t, pages[0].IsClosed())
		assert.True(t, pages[2].IsClosed())
		assert.False(t, pages[3].IsClosed())

		st := plugin.Stats(ctx)
		assert.Equal(t, 2, st.MaxPages)
		assert.Equal(t, 2, st.CurrentPages)
		assert.Zero(t, st.AvailableSlots)
		assert.Equal(t, 3, st.ClosedPages)
		require.Len(t, st.Pages, 2)
		assert.Equal(t, "https://example.org", st.Pages[1].URL)

		assert.Zero(t, plugin.ForceCleanup(ctx))
	})
}

func TestLog(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	bctx := mocks.NewFakeContext()
	mgr := pagemanager.New(nil, bctx, zap.New(core), nil, NewLog("info"))

	ctx := context.Background()
	page, err := mgr.NewPage(ctx)
	require.NoError(t, err)
	require.NoError(t, page.Click(ctx, "#ok"))

	for _, msg := range []string{"Action started", "Action context", "Action in progress", "Action succeeded", "Action completed"} {
		assert.Equal(t, 1, logs.FilterMessage(msg).Len(), msg)
	}
	completed := logs.FilterMessage("Action completed").All()[0]
	assert.Equal(t, zapcore.InfoLevel, completed.Level)
	assert.Contains(t, completed.ContextMap(), "elapsed")
	assert.Equal(t, "page_manager.log", completed.LoggerName)

	bctx.PageSetup = func(p *mocks.FakePage) {
		p.ActionFunc = func(string, ...any) error { return errors.New("detached") }
	}
	failing, err := mgr.NewPage(ctx)
	require.NoError(t, err)
	require.Error(t, failing.Click(ctx, "#gone"))
	failed := logs.FilterMessage("Action failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, zapcore.ErrorLevel, failed[0].Level)
}

func TestLogLevel(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	plugin := NewLog("debug")(hooks.Deps{Logger: zap.New(core)})
	pl := hooks.NewPipeline(zap.NewNop(), nil, plugin)

	_, err := pl.Execute(context.Background(), hooks.NewCall("reload", nil), func(context.Context) (any, error) { return nil, nil })
	require.NoError(t, err)
	assert.Zero(t, logs.Len(), "debug notices are filtered by an info core")

	assert.NotPanics(t, func() { NewLog("not-a-level")(hooks.Deps{}) })
}

func TestFromConfig(t *testing.T) {
	cfg := config.PluginsConfig{
		Log:       config.LogPluginConfig{Enabled: true, Level: "info"},
		Retry:     config.RetryPluginConfig{Enabled: true, MaxAttempts: 3, Delay: time.Second},
		PageLimit: config.PageLimitPluginConfig{Enabled: true, MaxPages: 5},
	}
	mgr := pagemanager.New(nil, mocks.NewFakeContext(), nil, nil, FromConfig(cfg)...)

	var names []string
	for _, p := range mgr.Plugins() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{LogName, PageLimitName, RetryName}, names)

	cfg.Log.Enabled = false
	cfg.Retry.Enabled = false
	assert.Len(t, FromConfig(cfg), 1)
	assert.Empty(t, FromConfig(config.PluginsConfig{}))
}
