package cdp

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp/kb"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/rpa-browser/api/schemas"
	"go.uber.org/zap/zaptest"
)

func TestParseArgs(t *testing.T) {
	got := parseArgs([]string{
		"--no-pings",
		"--lang=en-US",
		"--disable-features=A,B=c",
		"  --mute-audio ",
		"--",
		"",
		"fingerprint=42",
	})
	want := []flag{
		{name: "no-pings", value: true},
		{name: "lang", value: "en-US"},
		{name: "disable-features", value: "A,B=c"},
		{name: "mute-audio", value: true},
		{name: "fingerprint", value: "42"},
	}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(flag{})); diff != "" {
		t.Errorf("parseArgs mismatch (-want +got):\n%s", diff)
	}
}

func TestExecOptions(t *testing.T) {
	base := execOptions(schemas.LaunchOptions{UserDataDir: "/tmp/profile"})
	full := execOptions(schemas.LaunchOptions{
		UserDataDir: "/tmp/profile",
		Headless:    true,
		ExecPath:    "/usr/bin/chromium",
		Args:        []string{"--a", "--b=c"},
	})
	assert.Len(t, full, len(base)+4)
}

func TestKeyFor(t *testing.T) {
	assert.Equal(t, kb.Enter, keyFor("Enter"))
	assert.Equal(t, kb.ArrowDown, keyFor("arrowdown"))
	assert.Equal(t, "a", keyFor("a"))
	assert.Equal(t, "hello", keyFor("hello"))
}

func TestJSString(t *testing.T) {
	assert.Equal(t, `"#id"`, jsString("#id"))
	assert.Equal(t, `"a[title=\"x\"]"`, jsString(`a[title="x"]`))
	assert.Equal(t, `"line\nbreak"`, jsString("line\nbreak"))
}

func TestQuerySnapshotScript(t *testing.T) {
	script := querySnapshotScript(`div[data-x="1"]`, 1)
	assert.Contains(t, script, `document.querySelectorAll("div[data-x=\"1\"]")`)
	assert.Contains(t, script, "if (1 > 0) nodes = nodes.slice(0, 1);")
	assert.Contains(t, script, "node_name: el.nodeName")
}

func TestScreenshotParams(t *testing.T) {
	png := screenshotParams(schemas.ScreenshotOptions{})
	assert.Equal(t, page.CaptureScreenshotFormatPng, png.Format)
	assert.Zero(t, png.Quality)
	assert.False(t, png.CaptureBeyondViewport)

	jpeg := screenshotParams(schemas.ScreenshotOptions{Format: schemas.ScreenshotJPEG, Quality: 160, FullPage: true})
	assert.Equal(t, page.CaptureScreenshotFormatJpeg, jpeg.Format)
	assert.EqualValues(t, 100, jpeg.Quality)
	assert.True(t, jpeg.CaptureBeyondViewport)
	assert.True(t, jpeg.FromSurface)
}

func TestCombine(t *testing.T) {
	type key struct{}
	session, cancelSession := context.WithCancel(context.WithValue(context.Background(), key{}, "session"))
	defer cancelSession()

	t.Run("request cancellation propagates", func(t *testing.T) {
		req, cancelReq := context.WithCancel(context.Background())
		ctx, stop := combine(session, req)
		defer stop()
		assert.Equal(t, "session", ctx.Value(key{}))

		cancelReq()
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
			t.Fatal("combined context not cancelled")
		}
		assert.NoError(t, session.Err())
	})

	t.Run("stop does not cancel the session", func(t *testing.T) {
		ctx, stop := combine(session, context.Background())
		stop()
		assert.Error(t, ctx.Err())
		assert.NoError(t, session.Err())
	})
}

func TestPageTracking(t *testing.T) {
	c := &BrowserContext{logger: zaptest.NewLogger(t)}
	a := newPage(c, nil, nil, "A")
	b := newPage(c, nil, nil, "B")
	d := newPage(c, nil, nil, "D")
	for _, p := range []*Page{a, b, d} {
		require.True(t, c.adopt(p))
	}
	assert.False(t, c.adopt(newPage(c, nil, nil, "A")), "a known target is adopted once")

	c.forget("A")
	c.forget("A")
	assert.Len(t, c.pages, 2)
	assert.NotContains(t, c.byID, target.ID("A"))

	// B went away in the browser; D is still listed.
	c.mu.Lock()
	c.dropMissingLocked(map[target.ID]bool{"D": true})
	c.mu.Unlock()
	assert.True(t, b.IsClosed())
	assert.False(t, d.IsClosed())
	assert.Len(t, c.byID, 1)
	pages := c.Pages()
	require.Len(t, pages, 1)
	assert.Same(t, d, pages[0])

	assert.True(t, c.adopt(newPage(c, nil, nil, "A")), "a forgotten target can be adopted again")
}

// TestDriverIntegration drives a real browser. It needs Chromium on the
// host and RPA_BROWSER_INTEGRATION=1.
func TestDriverIntegration(t *testing.T) {
	if os.Getenv("RPA_BROWSER_INTEGRATION") != "1" {
		t.Skip("set RPA_BROWSER_INTEGRATION=1 to run against a real browser")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	d := NewDriver(zaptest.NewLogger(t))
	bctx, err := d.Launch(ctx, schemas.LaunchOptions{
		UserDataDir: t.TempDir(),
		Headless:    true,
		Args:        []string{"--disable-gpu", "--disable-dev-shm-usage"},
	})
	require.NoError(t, err)
	defer func() { assert.NoError(t, bctx.Close(context.Background())) }()
	require.Len(t, bctx.Pages(), 1, "the initial tab is tracked")

	p, err := bctx.NewPage(ctx)
	require.NoError(t, err)
	require.NoError(t, p.Goto(ctx, `data:text/html,<title>t</title><input id="q"><a href="#x">link</a>`))

	title, err := p.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t", title)

	require.NoError(t, p.Fill(ctx, "#q", "hello"))
	var value string
	require.NoError(t, p.Evaluate(ctx, `document.querySelector("#q").value`, &value))
	assert.Equal(t, "hello", value)

	el, err := p.QuerySelector(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, el)
	assert.Equal(t, "A", el.NodeName)
	assert.Equal(t, "#x", el.Attributes["href"])

	shot, err := p.Screenshot(ctx, schemas.ScreenshotOptions{Format: schemas.ScreenshotJPEG, Quality: 60})
	require.NoError(t, err)
	assert.NotEmpty(t, shot)

	require.NoError(t, p.Close(ctx))
	assert.True(t, p.IsClosed())
	assert.Len(t, bctx.Pages(), 1)
}
