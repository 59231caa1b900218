package mocks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/xkilldash9x/rpa-browser/api/schemas"
)

// ErrPageClosed is returned by FakePage actions after Close.
var ErrPageClosed = errors.New("page closed")

// -- Driver Fake --

// FakeDriver is an in-memory schemas.Driver. Every Launch returns a new
// FakeContext and records the options it was given.
type FakeDriver struct {
	// LaunchDelay blocks each Launch, widening race windows in tests.
	LaunchDelay time.Duration
	// LaunchErr, when set, fails every Launch.
	LaunchErr error
	// OnNewContext is called for each launched context before it is returned.
	OnNewContext func(*FakeContext)

	launches atomic.Int32
	mu       sync.Mutex
	options  []schemas.LaunchOptions
	contexts []*FakeContext
}

var _ schemas.Driver = (*FakeDriver)(nil)

func (d *FakeDriver) Launch(ctx context.Context, opts schemas.LaunchOptions) (schemas.BrowserContext, error) {
	d.launches.Add(1)
	if d.LaunchDelay > 0 {
		select {
		case <-time.After(d.LaunchDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.LaunchErr != nil {
		return nil, d.LaunchErr
	}

	c := NewFakeContext()
	if d.OnNewContext != nil {
		d.OnNewContext(c)
	}
	d.mu.Lock()
	d.options = append(d.options, opts)
	d.contexts = append(d.contexts, c)
	d.mu.Unlock()
	return c, nil
}

// Launches counts Launch calls, including failed ones.
func (d *FakeDriver) Launches() int { return int(d.launches.Load()) }

// LastOptions returns the options of the most recent successful Launch.
func (d *FakeDriver) LastOptions() schemas.LaunchOptions {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.options) == 0 {
		return schemas.LaunchOptions{}
	}
	return d.options[len(d.options)-1]
}

// Contexts returns every context launched so far.
func (d *FakeDriver) Contexts() []*FakeContext {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*FakeContext(nil), d.contexts...)
}

// -- Browser Context Fake --

// FakeContext is an in-memory schemas.BrowserContext.
type FakeContext struct {
	// CloseErr is returned by Close.
	CloseErr error
	// ClosePanic makes Close panic with this value.
	ClosePanic any
	// PageSetup configures each page created by NewPage.
	PageSetup func(*FakePage)
	// SyncErr is returned by Sync, which then adopts nothing.
	SyncErr error

	mu      sync.Mutex
	pages   []*FakePage
	pending []*FakePage
	nextID  int
	syncs   int
	closes  int
	closed  bool
}

var (
	_ schemas.BrowserContext = (*FakeContext)(nil)
	_ schemas.PageSyncer     = (*FakeContext)(nil)
)

func NewFakeContext() *FakeContext { return &FakeContext{} }

func (c *FakeContext) NewPage(ctx context.Context) (schemas.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("browser context closed")
	}
	c.nextID++
	p := NewFakePage(fmt.Sprintf("page-%d", c.nextID))
	if c.PageSetup != nil {
		c.PageSetup(p)
	}
	c.pages = append(c.pages, p)
	return p, nil
}

// OpenPopup simulates the browser opening a tab by itself. Like a real
// popup, it is not listed by Pages until the next Sync.
func (c *FakeContext) OpenPopup(id string) *FakePage {
	p := NewFakePage(id)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, p)
	return p
}

// Sync adopts the popups opened since the last call.
func (c *FakeContext) Sync(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncs++
	if c.SyncErr != nil {
		return c.SyncErr
	}
	c.pages = append(c.pages, c.pending...)
	c.pending = nil
	return nil
}

// Syncs counts Sync calls.
func (c *FakeContext) Syncs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncs
}

// Pages returns the open pages, oldest first.
func (c *FakeContext) Pages() []schemas.Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []schemas.Page
	for _, p := range c.pages {
		if !p.IsClosed() {
			out = append(out, p)
		}
	}
	return out
}

// OpenPages is the number of pages not yet closed.
func (c *FakeContext) OpenPages() int { return len(c.Pages()) }

func (c *FakeContext) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closes++
	c.closed = true
	pages := append([]*FakePage(nil), c.pages...)
	c.mu.Unlock()

	if c.ClosePanic != nil {
		panic(c.ClosePanic)
	}
	for _, p := range pages {
		_ = p.Close(ctx)
	}
	return c.CloseErr
}

// Closes counts Close calls.
func (c *FakeContext) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// IsClosed reports whether Close has been called at least once.
func (c *FakeContext) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// -- Page Fake --

// FakePage is an in-memory schemas.Page that records every action.
type FakePage struct {
	// ActionFunc decides the outcome of every catalogued action. A nil
	// ActionFunc makes all actions succeed.
	ActionFunc func(action string, args ...any) error
	// EvalFunc produces the result for Evaluate.
	EvalFunc func(expr string) (any, error)
	// CloseErr is returned by Close without closing the page.
	CloseErr error
	// ScreenshotData is returned by Screenshot.
	ScreenshotData []byte

	id     string
	mu     sync.Mutex
	calls  []string
	shots  []schemas.ScreenshotOptions
	url    string
	title  string
	closed bool
}

var _ schemas.Page = (*FakePage)(nil)

func NewFakePage(id string) *FakePage {
	return &FakePage{id: id, url: "about:blank", ScreenshotData: []byte{0xff, 0xd8, 0xff, 0xd9}}
}

func (p *FakePage) ID() string { return p.id }

// Calls returns the recorded action names in call order.
func (p *FakePage) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *FakePage) record(action string, args ...any) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPageClosed
	}
	p.calls = append(p.calls, action)
	fn := p.ActionFunc
	p.mu.Unlock()
	if fn != nil {
		return fn(action, args...)
	}
	return nil
}

func (p *FakePage) Goto(ctx context.Context, url string) error {
	if err := p.record("goto", url); err != nil {
		return err
	}
	p.mu.Lock()
	p.url = url
	p.title = "Title of " + url
	p.mu.Unlock()
	return nil
}

func (p *FakePage) Reload(ctx context.Context) error { return p.record("reload") }
func (p *FakePage) Click(ctx context.Context, sel string) error {
	return p.record("click", sel)
}
func (p *FakePage) Fill(ctx context.Context, sel, value string) error {
	return p.record("fill", sel, value)
}
func (p *FakePage) Type(ctx context.Context, sel, text string) error {
	return p.record("type", sel, text)
}
func (p *FakePage) Press(ctx context.Context, sel, key string) error {
	return p.record("press", sel, key)
}
func (p *FakePage) Check(ctx context.Context, sel string) error   { return p.record("check", sel) }
func (p *FakePage) Uncheck(ctx context.Context, sel string) error { return p.record("uncheck", sel) }
func (p *FakePage) SelectOption(ctx context.Context, sel, value string) error {
	return p.record("select_option", sel, value)
}
func (p *FakePage) SetInputFiles(ctx context.Context, sel string, files ...string) error {
	return p.record("set_input_files", sel, files)
}
func (p *FakePage) Focus(ctx context.Context, sel string) error { return p.record("focus", sel) }
func (p *FakePage) Blur(ctx context.Context, sel string) error  { return p.record("blur", sel) }
func (p *FakePage) DragAndDrop(ctx context.Context, src, dst string) error {
	return p.record("drag_and_drop", src, dst)
}
func (p *FakePage) Hover(ctx context.Context, sel string) error { return p.record("hover", sel) }
func (p *FakePage) WaitForSelector(ctx context.Context, sel string) error {
	return p.record("wait_for_selector", sel)
}
func (p *FakePage) WaitForFunction(ctx context.Context, expr string) error {
	return p.record("wait_for_function", expr)
}

func (p *FakePage) Evaluate(ctx context.Context, expr string, res any) error {
	if err := p.record("evaluate", expr); err != nil {
		return err
	}
	if p.EvalFunc == nil || res == nil {
		return nil
	}
	v, err := p.EvalFunc(expr)
	if err != nil {
		return err
	}
	raw, err := jsoniter.Marshal(v)
	if err != nil {
		return err
	}
	return jsoniter.Unmarshal(raw, res)
}

func (p *FakePage) QuerySelector(ctx context.Context, sel string) (*schemas.Element, error) {
	if err := p.record("query_selector", sel); err != nil {
		return nil, err
	}
	return &schemas.Element{NodeName: "DIV", Attributes: map[string]string{"data-sel": sel}}, nil
}

func (p *FakePage) QuerySelectorAll(ctx context.Context, sel string) ([]*schemas.Element, error) {
	if err := p.record("query_selector_all", sel); err != nil {
		return nil, err
	}
	return []*schemas.Element{{NodeName: "DIV"}, {NodeName: "DIV"}}, nil
}

func (p *FakePage) Title(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.title, nil
}

func (p *FakePage) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *FakePage) Screenshot(ctx context.Context, opts schemas.ScreenshotOptions) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPageClosed
	}
	p.shots = append(p.shots, opts)
	return append([]byte(nil), p.ScreenshotData...), nil
}

// Screenshots returns the options of every capture taken so far.
func (p *FakePage) Screenshots() []schemas.ScreenshotOptions {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]schemas.ScreenshotOptions(nil), p.shots...)
}

func (p *FakePage) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CloseErr != nil {
		return p.CloseErr
	}
	p.closed = true
	return nil
}

func (p *FakePage) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
