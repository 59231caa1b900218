// Package cdp implements the browser driver on top of chromedp. One Launch
// starts one Chromium process with a persistent user data directory; pages
// are tabs of that process.
package cdp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/xkilldash9x/rpa-browser/api/schemas"
	"go.uber.org/zap"
)

const defaultCloseTimeout = 10 * time.Second

// Driver launches local Chromium processes through chromedp's exec allocator.
type Driver struct {
	logger *zap.Logger
}

var _ schemas.Driver = (*Driver)(nil)

// NewDriver returns a Driver logging through logger.
func NewDriver(logger *zap.Logger) *Driver {
	return &Driver{logger: logger.Named("cdp")}
}

// Launch starts the browser and attaches to its initial tab. ctx bounds the
// startup only: the browser outlives it and is stopped by Close.
func (d *Driver) Launch(ctx context.Context, opts schemas.LaunchOptions) (schemas.BrowserContext, error) {
	log := d.logger.With(zap.String("user_data_dir", opts.UserDataDir))

	// The allocator must not inherit the caller's cancellation, or the
	// browser would die with the request that created it.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), execOptions(opts)...)
	sugar := log.Sugar()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Errorf),
	)

	// The first Run allocates the process. A deadline on it would kill the
	// browser, so ctx is honoured by abandoning the wait instead.
	if err := attach(ctx, browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	c := chromedp.FromContext(browserCtx)
	bc := &BrowserContext{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		logger:        log,
	}
	first := newPage(bc, browserCtx, nil, c.Target.TargetID)
	first.attached.Store(true)
	bc.adopt(first)
	log.Info("Browser started", zap.Bool("headless", opts.Headless), zap.Int("arg_count", len(opts.Args)))
	return bc, nil
}

// flag is one command line switch, name without the leading dashes.
type flag struct {
	name  string
	value any
}

// parseArgs turns "--name" and "--name=value" switches into chromedp flags.
// Bare switches become boolean true.
func parseArgs(args []string) []flag {
	out := make([]flag, 0, len(args))
	for _, arg := range args {
		arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
		if arg == "" {
			continue
		}
		name, value, found := strings.Cut(arg, "=")
		if found {
			out = append(out, flag{name: name, value: value})
		} else {
			out = append(out, flag{name: name, value: true})
		}
	}
	return out
}

func execOptions(opts schemas.LaunchOptions) []chromedp.ExecAllocatorOption {
	out := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.NoSandbox,
		chromedp.UserDataDir(opts.UserDataDir),
	}
	if opts.Headless {
		out = append(out, chromedp.Headless)
	}
	if opts.ExecPath != "" {
		out = append(out, chromedp.ExecPath(opts.ExecPath))
	}
	for _, f := range parseArgs(opts.Args) {
		out = append(out, chromedp.Flag(f.name, f.value))
	}
	return out
}
