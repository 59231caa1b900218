package schemas

import (
	"context"
)

// -- Driver Surface --

// LaunchOptions describes a persistent browser launch for a single browser token.
type LaunchOptions struct {
	// UserDataDir is the isolated profile directory. Re-launching with the same
	// directory reuses cookies and storage.
	UserDataDir string
	// Args are raw Chromium command line switches ("--name" or "--name=value").
	Args     []string
	Headless bool
	// ExecPath overrides the Chromium binary. Empty means driver default.
	ExecPath string
}

// ScreenshotFormat is the image encoding of a captured screenshot.
type ScreenshotFormat string

const (
	ScreenshotPNG  ScreenshotFormat = "png"
	ScreenshotJPEG ScreenshotFormat = "jpeg"
)

// ScreenshotOptions controls page capture.
type ScreenshotOptions struct {
	FullPage bool
	Format   ScreenshotFormat
	// Quality applies to JPEG only (0-100). Zero lets the driver choose.
	Quality int
}

// Element is a detached snapshot of a DOM node returned by query primitives.
type Element struct {
	NodeName   string            `json:"node_name"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Text       string            `json:"text,omitempty"`
}

// Driver launches browser processes. Implementations own process creation;
// callers own the returned context and must Close it. ctx bounds the launch
// only, not the lifetime of the returned context.
type Driver interface {
	Launch(ctx context.Context, opts LaunchOptions) (BrowserContext, error)
}

// BrowserContext is a live, persistent browser context (one process per token).
type BrowserContext interface {
	// NewPage opens a fresh tab.
	NewPage(ctx context.Context) (Page, error)
	// Pages lists open pages, oldest first.
	Pages() []Page
	// Close tears down every page and the browser process.
	Close(ctx context.Context) error
}

// PageSyncer is implemented by browser contexts that can discover tabs the
// browser opened by itself, such as popups and target=_blank links, and
// forget tabs that have gone away.
type PageSyncer interface {
	Sync(ctx context.Context) error
}

// SyncPages refreshes bctx's page list when it supports PageSyncer.
func SyncPages(ctx context.Context, bctx BrowserContext) error {
	if s, ok := bctx.(PageSyncer); ok {
		return s.Sync(ctx)
	}
	return nil
}

// Actions is the catalogue of page-level operations that can be intercepted.
type Actions interface {
	// Navigation
	Goto(ctx context.Context, url string) error
	Reload(ctx context.Context) error

	// Input
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	Type(ctx context.Context, selector, text string) error
	Press(ctx context.Context, selector, key string) error
	Check(ctx context.Context, selector string) error
	Uncheck(ctx context.Context, selector string) error
	SelectOption(ctx context.Context, selector, value string) error
	SetInputFiles(ctx context.Context, selector string, files ...string) error
	Focus(ctx context.Context, selector string) error
	Blur(ctx context.Context, selector string) error
	DragAndDrop(ctx context.Context, source, target string) error
	Hover(ctx context.Context, selector string) error

	// Query and evaluation
	WaitForSelector(ctx context.Context, selector string) error
	WaitForFunction(ctx context.Context, expression string) error
	Evaluate(ctx context.Context, expression string, res any) error
	QuerySelector(ctx context.Context, selector string) (*Element, error)
	QuerySelectorAll(ctx context.Context, selector string) ([]*Element, error)
}

// Page is a single browser tab.
type Page interface {
	Actions

	// ID is stable for the lifetime of the tab and unique within a context.
	ID() string
	Title(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error)
	Close(ctx context.Context) error
	IsClosed() bool
}
