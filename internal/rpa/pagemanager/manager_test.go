package pagemanager

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/rpa-browser/api/schemas"
	"github.com/xkilldash9x/rpa-browser/internal/mocks"
	"github.com/xkilldash9x/rpa-browser/internal/rpa/hooks"
	"go.uber.org/zap/zaptest"
)

// countingPlugin records the phases it sees, keyed by action.
type countingPlugin struct {
	hooks.Base
	mu     sync.Mutex
	events []string
}

func (c *countingPlugin) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...)
}

func countingFactory(out **countingPlugin) hooks.Factory {
	return func(deps hooks.Deps) hooks.Plugin {
		p := &countingPlugin{Base: hooks.NewBase("counting", deps)}
		for _, phase := range hooks.Phases {
			p.On(phase, "record", func(_ context.Context, call *hooks.Call) error {
				p.mu.Lock()
				p.events = append(p.events, call.Action+":"+phase.String())
				p.mu.Unlock()
				return nil
			})
		}
		*out = p
		return p
	}
}

func newManager(t *testing.T) (*Manager, *mocks.FakeContext, *countingPlugin) {
	t.Helper()
	bctx := mocks.NewFakeContext()
	var plugin *countingPlugin
	m := New(nil, bctx, zaptest.NewLogger(t), nil, countingFactory(&plugin))
	require.NotNil(t, plugin, "plugins are instantiated at construction")
	return m, bctx, plugin
}

func TestNewInstantiatesPluginsOnce(t *testing.T) {
	built := 0
	factory := func(deps hooks.Deps) hooks.Plugin {
		built++
		b := hooks.NewBase("noop", deps)
		return &b
	}
	bctx := mocks.NewFakeContext()
	m := New(nil, bctx, nil, nil, factory, nil, factory)

	ctx := context.Background()
	page, err := m.NewPage(ctx)
	require.NoError(t, err)
	require.NoError(t, page.Goto(ctx, "https://example.com"))
	require.NoError(t, page.Click(ctx, "#submit"))

	assert.Equal(t, 2, built)
	assert.Len(t, m.Plugins(), 2)
	assert.Same(t, bctx, m.Context())
}

func TestWrappedActionsRunThroughPipeline(t *testing.T) {
	m, _, plugin := newManager(t)
	ctx := context.Background()

	page, err := m.NewPage(ctx)
	require.NoError(t, err)
	require.NoError(t, page.Fill(ctx, "#q", "golang"))

	assert.Equal(t, []string{
		"fill:before_exec", "fill:on_exec", "fill:on_success", "fill:after_exec",
	}, plugin.all())
	assert.Equal(t, []string{"fill"}, page.Unwrap().(*mocks.FakePage).Calls())
}

func TestWrappedActionErrorIsReturnedUnchanged(t *testing.T) {
	m, bctx, plugin := newManager(t)
	ctx := context.Background()
	actionErr := errors.New("element is not visible")
	bctx.PageSetup = func(p *mocks.FakePage) {
		p.ActionFunc = func(string, ...any) error { return actionErr }
	}

	page, err := m.NewPage(ctx)
	require.NoError(t, err)
	err = page.Click(ctx, "#hidden")
	assert.Same(t, actionErr, err)
	assert.Contains(t, plugin.all(), "click:on_error")
	assert.NotContains(t, plugin.all(), "click:on_success")
}

func TestEveryCatalogueActionIsIntercepted(t *testing.T) {
	m, _, plugin := newManager(t)
	ctx := context.Background()
	page, err := m.NewPage(ctx)
	require.NoError(t, err)

	var res any
	require.NoError(t, page.Goto(ctx, "https://example.com"))
	require.NoError(t, page.Reload(ctx))
	require.NoError(t, page.Click(ctx, "a"))
	require.NoError(t, page.Fill(ctx, "input", "v"))
	require.NoError(t, page.Type(ctx, "input", "v"))
	require.NoError(t, page.Press(ctx, "input", "Enter"))
	require.NoError(t, page.Check(ctx, "#c"))
	require.NoError(t, page.Uncheck(ctx, "#c"))
	require.NoError(t, page.SelectOption(ctx, "select", "1"))
	require.NoError(t, page.SetInputFiles(ctx, "input[type=file]", "a.txt", "b.txt"))
	require.NoError(t, page.Focus(ctx, "input"))
	require.NoError(t, page.Blur(ctx, "input"))
	require.NoError(t, page.DragAndDrop(ctx, "#a", "#b"))
	require.NoError(t, page.Hover(ctx, "a"))
	require.NoError(t, page.WaitForSelector(ctx, "body"))
	require.NoError(t, page.WaitForFunction(ctx, "() => true"))
	require.NoError(t, page.Evaluate(ctx, "1+1", &res))
	el, err := page.QuerySelector(ctx, "div")
	require.NoError(t, err)
	assert.Equal(t, "div", el.Attributes["data-sel"])
	els, err := page.QuerySelectorAll(ctx, "div")
	require.NoError(t, err)
	assert.Len(t, els, 2)

	var seen []string
	for _, e := range plugin.all() {
		if len(e) > len(":before_exec") && e[len(e)-len(":before_exec"):] == ":before_exec" {
			seen = append(seen, e[:len(e)-len(":before_exec")])
		}
	}
	assert.ElementsMatch(t, Catalogue, seen)
	for _, a := range Catalogue {
		assert.True(t, IsCatalogued(a))
	}
	assert.False(t, IsCatalogued("screenshot"))

	// Delegated methods bypass the pipeline.
	before := len(plugin.all())
	title, err := page.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Title of https://example.com", title)
	_, err = page.Screenshot(ctx, schemas.ScreenshotOptions{})
	require.NoError(t, err)
	assert.Len(t, plugin.all(), before)
}

func TestEvaluateDecodesResult(t *testing.T) {
	m, bctx, _ := newManager(t)
	bctx.PageSetup = func(p *mocks.FakePage) {
		p.EvalFunc = func(string) (any, error) { return map[string]any{"answer": 42}, nil }
	}
	ctx := context.Background()
	page, err := m.NewPage(ctx)
	require.NoError(t, err)

	var out struct {
		Answer int `json:"answer"`
	}
	require.NoError(t, page.Evaluate(ctx, "({answer: 42})", &out))
	assert.Equal(t, 42, out.Answer)
}

func TestWrapIsIdempotent(t *testing.T) {
	m, bctx, plugin := newManager(t)
	ctx := context.Background()
	raw, err := bctx.NewPage(ctx)
	require.NoError(t, err)

	w1 := m.Wrap(raw)
	w2 := m.Wrap(raw)
	w3 := m.Wrap(w1)
	assert.Same(t, w1, w2)
	assert.Same(t, w1, w3)
	assert.True(t, m.IsWrapped(raw.ID()))

	require.NoError(t, w3.Click(ctx, "#once"))
	assert.Equal(t, []string{
		"click:before_exec", "click:on_exec", "click:on_success", "click:after_exec",
	}, plugin.all(), "hooks run once per logical action")
	assert.Equal(t, []string{"click"}, raw.(*mocks.FakePage).Calls())
}

func TestWrapFromAnotherManager(t *testing.T) {
	a, bctx, _ := newManager(t)
	b := New(nil, bctx, zaptest.NewLogger(t), nil)
	page, err := a.NewPage(context.Background())
	require.NoError(t, err)

	wrapped := b.Wrap(page)
	assert.NotSame(t, page, wrapped)
	assert.True(t, b.IsWrapped(page.ID()))
}

func TestCurrentPage(t *testing.T) {
	ctx := context.Background()

	t.Run("opens a page when none exist", func(t *testing.T) {
		m, bctx, _ := newManager(t)
		page, err := m.CurrentPage(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, bctx.OpenPages())
		assert.True(t, m.IsWrapped(page.ID()))
	})

	t.Run("returns the most recently opened page", func(t *testing.T) {
		m, bctx, _ := newManager(t)
		_, err := bctx.NewPage(ctx)
		require.NoError(t, err)
		latest, err := bctx.NewPage(ctx)
		require.NoError(t, err)

		page, err := m.CurrentPage(ctx)
		require.NoError(t, err)
		assert.Equal(t, latest.ID(), page.ID())
		assert.Equal(t, 2, bctx.OpenPages())
	})

	t.Run("fails when the context is closed", func(t *testing.T) {
		m, bctx, _ := newManager(t)
		require.NoError(t, bctx.Close(ctx))
		_, err := m.CurrentPage(ctx)
		assert.Error(t, err)
	})
}

func TestWrapAll(t *testing.T) {
	m, bctx, _ := newManager(t)
	ctx := context.Background()
	assert.Nil(t, m.WrapAll(ctx))

	for i := 0; i < 3; i++ {
		_, err := bctx.NewPage(ctx)
		require.NoError(t, err)
	}
	first := m.WrapAll(ctx)
	require.Len(t, first, 3)
	second := m.WrapAll(ctx)
	for i := range first {
		assert.Same(t, first[i], second[i])
	}

	require.NoError(t, first[0].Close(ctx))
	assert.False(t, m.IsWrapped(first[0].ID()), "closing through the wrapper forgets it")

	require.NoError(t, first[1].Unwrap().Close(ctx))
	assert.Len(t, m.WrapAll(ctx), 1)
	assert.False(t, m.IsWrapped(first[1].ID()), "pages closed elsewhere are pruned")
}

func TestPopupsAreAdopted(t *testing.T) {
	ctx := context.Background()

	t.Run("current page is the popup", func(t *testing.T) {
		m, bctx, _ := newManager(t)
		_, err := m.NewPage(ctx)
		require.NoError(t, err)
		bctx.OpenPopup("popup-1")

		page, err := m.CurrentPage(ctx)
		require.NoError(t, err)
		assert.Equal(t, "popup-1", page.ID())
		assert.True(t, m.IsWrapped("popup-1"))
		assert.Equal(t, 2, bctx.OpenPages())
	})

	t.Run("wrap all includes popups", func(t *testing.T) {
		m, bctx, _ := newManager(t)
		_, err := m.NewPage(ctx)
		require.NoError(t, err)
		bctx.OpenPopup("popup-1")
		bctx.OpenPopup("popup-2")

		pages := m.WrapAll(ctx)
		require.Len(t, pages, 3)
		assert.Equal(t, "popup-2", pages[2].ID())
		assert.Equal(t, 1, bctx.Syncs())
	})

	t.Run("sync failure keeps known pages", func(t *testing.T) {
		m, bctx, _ := newManager(t)
		known, err := m.NewPage(ctx)
		require.NoError(t, err)
		bctx.OpenPopup("popup-1")
		bctx.SyncErr = errors.New("connection reset")

		page, err := m.CurrentPage(ctx)
		require.NoError(t, err)
		assert.Same(t, known, page)
		assert.Len(t, m.WrapAll(ctx), 1)
	})
}
