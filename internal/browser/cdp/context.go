package cdp

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/xkilldash9x/rpa-browser/api/schemas"
	"go.uber.org/zap"
)

// ErrContextClosed is returned when opening a page on a closed browser.
var ErrContextClosed = errors.New("browser context closed")

// BrowserContext is one running browser process and its tabs.
type BrowserContext struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	logger        *zap.Logger

	mu     sync.Mutex
	pages  []*Page
	byID   map[target.ID]*Page
	closed bool
}

var (
	_ schemas.BrowserContext = (*BrowserContext)(nil)
	_ schemas.PageSyncer     = (*BrowserContext)(nil)
)

// adopt records p unless a page with the same target is already known.
func (c *BrowserContext) adopt(p *Page) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.byID == nil {
		c.byID = make(map[target.ID]*Page)
	}
	if _, ok := c.byID[p.targetID]; ok {
		return false
	}
	c.byID[p.targetID] = p
	c.pages = append(c.pages, p)
	return true
}

// NewPage opens a tab and attaches to it.
func (c *BrowserContext) NewPage(ctx context.Context) (schemas.Page, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrContextClosed
	}

	tabCtx, tabCancel := chromedp.NewContext(c.browserCtx)
	if err := attach(ctx, tabCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}

	p := newPage(c, tabCtx, tabCancel, chromedp.FromContext(tabCtx).Target.TargetID)
	p.attached.Store(true)
	c.adopt(p)
	c.logger.Debug("Tab opened", zap.String("page_id", p.ID()))
	return p, nil
}

// Pages returns the open tabs, oldest first.
func (c *BrowserContext) Pages() []schemas.Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]schemas.Page, 0, len(c.pages))
	for _, p := range c.pages {
		if !p.IsClosed() {
			out = append(out, p)
		}
	}
	return out
}

// Sync adopts tabs the browser opened by itself (popups, target=_blank) and
// marks tabs that no longer exist as closed.
func (c *BrowserContext) Sync(ctx context.Context) error {
	runCtx, stop := combine(c.browserCtx, ctx)
	defer stop()
	infos, err := chromedp.Targets(runCtx)
	if err != nil {
		return fmt.Errorf("failed to list targets: %w", err)
	}

	alive := make(map[target.ID]bool, len(infos))
	for _, info := range infos {
		if info.Type != "page" {
			continue
		}
		alive[info.TargetID] = true
		c.mu.Lock()
		_, known := c.byID[info.TargetID]
		c.mu.Unlock()
		if known {
			continue
		}
		// Attaching happens on the first action.
		tabCtx, tabCancel := chromedp.NewContext(c.browserCtx, chromedp.WithTargetID(info.TargetID))
		if !c.adopt(newPage(c, tabCtx, tabCancel, info.TargetID)) {
			tabCancel()
			continue
		}
		c.logger.Debug("Adopted tab", zap.String("page_id", string(info.TargetID)), zap.String("url", info.URL))
	}

	c.mu.Lock()
	c.dropMissingLocked(alive)
	c.mu.Unlock()
	return nil
}

// dropMissingLocked closes and forgets every tracked tab whose target is not
// in alive. c.mu must be held.
func (c *BrowserContext) dropMissingLocked(alive map[target.ID]bool) {
	for id, p := range c.byID {
		if !alive[id] {
			p.markClosed()
			c.removeLocked(id)
		}
	}
}

// forget stops tracking the tab with this target.
func (c *BrowserContext) forget(id target.ID) {
	c.mu.Lock()
	c.removeLocked(id)
	c.mu.Unlock()
}

func (c *BrowserContext) removeLocked(id target.ID) {
	if _, ok := c.byID[id]; !ok {
		return
	}
	delete(c.byID, id)
	c.pages = slices.DeleteFunc(c.pages, func(p *Page) bool { return p.targetID == id })
}

// closeTarget closes a tab through the browser connection.
func (c *BrowserContext) closeTarget(ctx context.Context, id target.ID) error {
	b := chromedp.FromContext(c.browserCtx).Browser
	runCtx, stop := combine(c.browserCtx, ctx)
	defer stop()
	return target.CloseTarget(id).Do(cdp.WithExecutor(runCtx, b))
}

// Close stops the browser process. It waits for a graceful shutdown until
// ctx is done, then kills the process.
func (c *BrowserContext) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pages := append([]*Page(nil), c.pages...)
	c.mu.Unlock()

	for _, p := range pages {
		p.markClosed()
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultCloseTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(c.browserCtx) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("graceful browser shutdown: %w", ctx.Err())
	}
	c.browserCancel()
	c.allocCancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn("Browser did not shut down cleanly", zap.Error(err))
		return err
	}
	c.logger.Debug("Browser stopped")
	return nil
}

// attach runs the first chromedp.Run on tctx itself, so the tab's event
// loop lives as long as tctx. ctx only bounds how long the caller waits.
func attach(ctx, tctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(tctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// combine returns a context that carries session's values and is cancelled
// when either session or req is done.
func combine(session, req context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(session)
	stop := context.AfterFunc(req, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
