package plugins

import (
	"context"
	"sync"

	"github.com/xkilldash9x/rpa-browser/api/schemas"
	"github.com/xkilldash9x/rpa-browser/internal/rpa/hooks"
	"go.uber.org/zap"
)

const PageLimitName = "page_limit"

// PageLimit caps the number of open pages in the context. Before an action
// runs, if the open page count has reached the maximum, the oldest page
// other than the one being acted on is closed, falling back to the next
// oldest when a close fails.
type PageLimit struct {
	hooks.Base
	maxPages int

	mu      sync.Mutex
	current int
	closed  int
}

// PageLimitStats is a snapshot of the plugin's counters.
type PageLimitStats struct {
	MaxPages       int        `json:"max_pages"`
	CurrentPages   int        `json:"current_pages"`
	AvailableSlots int        `json:"available_slots"`
	ClosedPages    int        `json:"closed_pages"`
	Pages          []PageInfo `json:"pages_info,omitempty"`
}

// PageInfo describes one open page.
type PageInfo struct {
	Index int    `json:"index"`
	ID    string `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// NewPageLimit returns a factory for PageLimit.
func NewPageLimit(maxPages int) hooks.Factory {
	if maxPages < 1 {
		maxPages = 1
	}
	return func(deps hooks.Deps) hooks.Plugin {
		p := &PageLimit{
			Base:     hooks.NewBase(PageLimitName, deps),
			maxPages: maxPages,
		}
		p.On(hooks.BeforeExec, "check page limit", p.check)
		p.On(hooks.OnSuccess, "update page count", p.recount)
		p.On(hooks.OnError, "handle page error", p.handleError)
		return p
	}
}

func (p *PageLimit) openPages() []schemas.Page {
	if p.Context == nil {
		return nil
	}
	return p.Context.Pages()
}

// syncPages makes popups count toward the limit.
func (p *PageLimit) syncPages(ctx context.Context) {
	if p.Context == nil {
		return
	}
	if err := schemas.SyncPages(ctx, p.Context); err != nil {
		p.Logger.Warn("Failed to sync pages with the browser", zap.Error(err))
	}
}

func (p *PageLimit) setCurrent(n int) {
	p.mu.Lock()
	p.current = n
	p.mu.Unlock()
}

func (p *PageLimit) check(ctx context.Context, call *hooks.Call) error {
	p.syncPages(ctx)
	pages := p.openPages()
	p.setCurrent(len(pages))
	p.Logger.Debug("Checking page limit", zap.Int("current", len(pages)), zap.Int("max", p.maxPages))
	if len(pages) < p.maxPages {
		return nil
	}

	var acting string
	if call.Page != nil {
		acting = call.Page.ID()
	}
	p.Logger.Warn("Page limit reached, closing oldest page", zap.Int("max", p.maxPages))
	for _, page := range pages {
		if page.ID() == acting || page.IsClosed() {
			continue
		}
		if err := page.Close(ctx); err != nil {
			p.Logger.Error("Failed to close page, trying the next oldest",
				zap.String("page_id", page.ID()),
				zap.Error(err),
			)
			continue
		}
		p.mu.Lock()
		p.closed++
		p.mu.Unlock()
		p.Metrics.IncPagesClosed()
		p.Logger.Info("Oldest page closed", zap.String("page_id", page.ID()))
		break
	}
	p.setCurrent(len(p.openPages()))
	return nil
}

func (p *PageLimit) recount(context.Context, *hooks.Call) error {
	n := len(p.openPages())
	p.mu.Lock()
	changed := n != p.current
	p.current = n
	p.mu.Unlock()
	if changed {
		p.Logger.Debug("Page count updated", zap.Int("current", n), zap.Int("max", p.maxPages))
	}
	return nil
}

func (p *PageLimit) handleError(ctx context.Context, call *hooks.Call) error {
	p.Logger.Debug("Page action failed", zap.String("action", call.Action), zap.Error(call.Err))
	return p.recount(ctx, call)
}

// Stats reports the current counters and describes every open page.
func (p *PageLimit) Stats(ctx context.Context) PageLimitStats {
	pages := p.openPages()
	p.mu.Lock()
	st := PageLimitStats{
		MaxPages:     p.maxPages,
		CurrentPages: p.current,
		ClosedPages:  p.closed,
	}
	p.mu.Unlock()
	st.AvailableSlots = max(0, st.MaxPages-st.CurrentPages)

	for i, page := range pages {
		info := PageInfo{Index: i, ID: page.ID()}
		info.URL, _ = page.URL(ctx)
		info.Title, _ = page.Title(ctx)
		st.Pages = append(st.Pages, info)
	}
	return st
}

// ForceCleanup closes pages beyond the maximum, oldest first, and returns
// how many were closed.
func (p *PageLimit) ForceCleanup(ctx context.Context) int {
	pages := p.openPages()
	excess := len(pages) - p.maxPages
	if excess <= 0 {
		return 0
	}
	p.Logger.Warn("Forcing page cleanup", zap.Int("current", len(pages)), zap.Int("max", p.maxPages))

	closed := 0
	for _, page := range pages[:excess] {
		if err := page.Close(ctx); err != nil {
			p.Logger.Error("Failed to force close page", zap.String("page_id", page.ID()), zap.Error(err))
			continue
		}
		closed++
		p.Metrics.IncPagesClosed()
	}

	p.mu.Lock()
	p.closed += closed
	p.mu.Unlock()
	p.Logger.Info("Forced page cleanup finished", zap.Int("closed", closed))
	_ = p.recount(ctx, nil)
	return closed
}
