package cdp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	jsoniter "github.com/json-iterator/go"
	"github.com/xkilldash9x/rpa-browser/api/schemas"
)

// ErrPageClosed is returned by actions on a closed tab.
var ErrPageClosed = errors.New("page closed")

// Page is one browser tab.
type Page struct {
	owner    *BrowserContext
	ctx      context.Context
	cancel   context.CancelFunc // nil for the initial tab, which lives as long as the browser
	targetID target.ID

	attachMu sync.Mutex
	attached atomic.Bool
	closed   atomic.Bool
}

var _ schemas.Page = (*Page)(nil)

func newPage(owner *BrowserContext, ctx context.Context, cancel context.CancelFunc, id target.ID) *Page {
	return &Page{owner: owner, ctx: ctx, cancel: cancel, targetID: id}
}

func (p *Page) ID() string { return string(p.targetID) }

func (p *Page) IsClosed() bool { return p.closed.Load() }

func (p *Page) markClosed() { p.closed.Store(true) }

func (p *Page) ensureAttached(ctx context.Context) error {
	if p.attached.Load() {
		return nil
	}
	p.attachMu.Lock()
	defer p.attachMu.Unlock()
	if p.attached.Load() {
		return nil
	}
	if err := attach(ctx, p.ctx); err != nil {
		return fmt.Errorf("failed to attach to tab %s: %w", p.targetID, err)
	}
	p.attached.Store(true)
	return nil
}

// run executes actions on the tab, bounded by both the tab and ctx.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	if p.IsClosed() {
		return ErrPageClosed
	}
	if err := p.ensureAttached(ctx); err != nil {
		return err
	}
	runCtx, stop := combine(p.ctx, ctx)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (p *Page) Goto(ctx context.Context, url string) error {
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

func (p *Page) Reload(ctx context.Context) error {
	return p.run(ctx, chromedp.Reload())
}

func (p *Page) Click(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

// Fill replaces the value of an input, firing key events like a user would.
func (p *Page) Fill(ctx context.Context, selector, value string) error {
	return p.run(ctx,
		chromedp.Focus(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

func (p *Page) Type(ctx context.Context, selector, text string) error {
	return p.run(ctx, chromedp.SendKeys(selector, text, chromedp.ByQuery))
}

func (p *Page) Press(ctx context.Context, selector, key string) error {
	return p.run(ctx,
		chromedp.Focus(selector, chromedp.ByQuery),
		chromedp.KeyEvent(keyFor(key)),
	)
}

func (p *Page) Check(ctx context.Context, selector string) error {
	return p.setChecked(ctx, selector, true)
}

func (p *Page) Uncheck(ctx context.Context, selector string) error {
	return p.setChecked(ctx, selector, false)
}

func (p *Page) setChecked(ctx context.Context, selector string, want bool) error {
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var checked bool
		if err := chromedp.JavascriptAttribute(selector, "checked", &checked, chromedp.ByQuery).Do(ctx); err != nil {
			return err
		}
		if checked == want {
			return nil
		}
		return chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible).Do(ctx)
	}))
}

func (p *Page) SelectOption(ctx context.Context, selector, value string) error {
	script := fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el) throw new Error("no element matches selector");
	el.value = %s;
	el.dispatchEvent(new Event("input", {bubbles: true}));
	el.dispatchEvent(new Event("change", {bubbles: true}));
	return el.value;
})()`, jsString(selector), jsString(value))
	var got string
	if err := p.run(ctx, chromedp.Evaluate(script, &got)); err != nil {
		return err
	}
	if got != value {
		return fmt.Errorf("select %s has no option with value %q", selector, value)
	}
	return nil
}

func (p *Page) SetInputFiles(ctx context.Context, selector string, files ...string) error {
	return p.run(ctx, chromedp.SetUploadFiles(selector, files, chromedp.ByQuery))
}

func (p *Page) Focus(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.Focus(selector, chromedp.ByQuery))
}

func (p *Page) Blur(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.Blur(selector, chromedp.ByQuery))
}

func (p *Page) DragAndDrop(ctx context.Context, source, dest string) error {
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		sx, sy, err := center(ctx, source)
		if err != nil {
			return err
		}
		dx, dy, err := center(ctx, dest)
		if err != nil {
			return err
		}
		return chromedp.Tasks{
			chromedp.MouseEvent(input.MouseMoved, sx, sy),
			chromedp.MouseEvent(input.MousePressed, sx, sy, chromedp.ButtonLeft),
			chromedp.MouseEvent(input.MouseMoved, dx, dy, chromedp.ButtonLeft),
			chromedp.MouseEvent(input.MouseReleased, dx, dy, chromedp.ButtonLeft),
		}.Do(ctx)
	}))
}

func (p *Page) Hover(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		x, y, err := center(ctx, selector)
		if err != nil {
			return err
		}
		return chromedp.MouseEvent(input.MouseMoved, x, y).Do(ctx)
	}))
}

func (p *Page) WaitForSelector(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (p *Page) WaitForFunction(ctx context.Context, expression string) error {
	return p.run(ctx, chromedp.Poll(expression, nil, chromedp.WithPollingTimeout(0)))
}

func (p *Page) Evaluate(ctx context.Context, expression string, res any) error {
	return p.run(ctx, chromedp.Evaluate(expression, res))
}

func (p *Page) QuerySelector(ctx context.Context, selector string) (*schemas.Element, error) {
	els, err := p.query(ctx, selector, 1)
	if err != nil || len(els) == 0 {
		return nil, err
	}
	return els[0], nil
}

func (p *Page) QuerySelectorAll(ctx context.Context, selector string) ([]*schemas.Element, error) {
	return p.query(ctx, selector, 0)
}

func (p *Page) query(ctx context.Context, selector string, limit int) ([]*schemas.Element, error) {
	var out []*schemas.Element
	if err := p.run(ctx, chromedp.Evaluate(querySnapshotScript(selector, limit), &out)); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Page) Title(ctx context.Context) (string, error) {
	var title string
	err := p.run(ctx, chromedp.Title(&title))
	return title, err
}

func (p *Page) URL(ctx context.Context) (string, error) {
	var url string
	err := p.run(ctx, chromedp.Location(&url))
	return url, err
}

func (p *Page) Screenshot(ctx context.Context, opts schemas.ScreenshotOptions) ([]byte, error) {
	var buf []byte
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = screenshotParams(opts).Do(ctx)
		return err
	}))
	return buf, err
}

// Close closes the tab. Closing an already closed tab is a no-op.
func (p *Page) Close(ctx context.Context) error {
	if p.closed.Swap(true) {
		return nil
	}
	err := p.owner.closeTarget(ctx, p.targetID)
	p.owner.forget(p.targetID)
	if p.cancel != nil {
		p.cancel()
	}
	if err != nil {
		return fmt.Errorf("failed to close tab %s: %w", p.targetID, err)
	}
	return nil
}

func screenshotParams(opts schemas.ScreenshotOptions) *page.CaptureScreenshotParams {
	params := page.CaptureScreenshot().WithFromSurface(true)
	if opts.Format == schemas.ScreenshotJPEG {
		params = params.WithFormat(page.CaptureScreenshotFormatJpeg)
		if opts.Quality > 0 {
			params = params.WithQuality(int64(min(opts.Quality, 100)))
		}
	} else {
		params = params.WithFormat(page.CaptureScreenshotFormatPng)
	}
	if opts.FullPage {
		params = params.WithCaptureBeyondViewport(true)
	}
	return params
}

// center returns the midpoint of the content box of the first match.
func center(ctx context.Context, selector string) (float64, float64, error) {
	var box *dom.BoxModel
	if err := chromedp.Dimensions(selector, &box, chromedp.ByQuery, chromedp.NodeVisible).Do(ctx); err != nil {
		return 0, 0, err
	}
	if box == nil || len(box.Content) < 8 {
		return 0, 0, fmt.Errorf("selector %q has no layout box", selector)
	}
	q := box.Content
	return (q[0] + q[2] + q[4] + q[6]) / 4, (q[1] + q[3] + q[5] + q[7]) / 4, nil
}

var namedKeys = map[string]string{
	"enter":      kb.Enter,
	"tab":        kb.Tab,
	"escape":     kb.Escape,
	"backspace":  kb.Backspace,
	"delete":     kb.Delete,
	"arrowdown":  kb.ArrowDown,
	"arrowup":    kb.ArrowUp,
	"arrowleft":  kb.ArrowLeft,
	"arrowright": kb.ArrowRight,
	"home":       kb.Home,
	"end":        kb.End,
	"pagedown":   kb.PageDown,
	"pageup":     kb.PageUp,
}

// keyFor maps a key name such as "Enter" to the key sequence chromedp sends.
// Anything else is sent as literal text.
func keyFor(key string) string {
	if k, ok := namedKeys[strings.ToLower(key)]; ok {
		return k
	}
	return key
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(s)
	if err != nil {
		return `""`
	}
	return out
}

// querySnapshotScript returns a script collecting a detached snapshot of the
// elements matching selector. limit <= 0 means all matches.
func querySnapshotScript(selector string, limit int) string {
	return fmt.Sprintf(`(() => {
	let nodes = Array.from(document.querySelectorAll(%s));
	if (%d > 0) nodes = nodes.slice(0, %d);
	return nodes.map(el => ({
		node_name: el.nodeName,
		attributes: Object.fromEntries(Array.from(el.attributes).map(a => [a.name, a.value])),
		text: (el.innerText || el.textContent || "").slice(0, 2000),
	}));
})()`, jsString(selector), limit, limit)
}
