package live

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strconv"
	"time"

	"github.com/xkilldash9x/rpa-browser/api/schemas"
	"github.com/xkilldash9x/rpa-browser/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Boundary separates MJPEG frames.
const Boundary = "frame"

const (
	DefaultFrameInterval = 200 * time.Millisecond
	DefaultJPEGQuality   = 60
)

// StreamContentType is the Content-Type of a live stream response.
const StreamContentType = "multipart/x-mixed-replace; boundary=" + Boundary

// Streamer writes a page as an endless sequence of JPEG frames.
type Streamer struct {
	interval time.Duration
	quality  int
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewStreamer returns a Streamer capturing one frame per interval at the
// given JPEG quality. Non-positive values fall back to the defaults.
func NewStreamer(interval time.Duration, quality int, m *metrics.Metrics, logger *zap.Logger) *Streamer {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &Streamer{interval: interval, quality: quality, metrics: m, logger: logger.Named("stream")}
}

// Stream captures page until ctx is done, the page fails to capture or w
// stops accepting writes. A cancelled ctx is a normal end and returns nil.
// When w implements Flush each frame is flushed as soon as it is written.
func (s *Streamer) Stream(ctx context.Context, w io.Writer, page schemas.Page) error {
	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(Boundary); err != nil {
		return err
	}
	flusher, _ := w.(interface{ Flush() })

	limiter := rate.NewLimiter(rate.Every(s.interval), 1)
	opts := schemas.ScreenshotOptions{Format: schemas.ScreenshotJPEG, Quality: s.quality}
	frames := 0
	defer func() {
		s.logger.Debug("Stream ended", zap.String("page_id", page.ID()), zap.Int("frames", frames))
	}()

	for {
		// Wait only fails once ctx is done or its deadline cannot be met.
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}
		img, err := page.Screenshot(ctx, opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to capture frame: %w", err)
		}

		part, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":   {"image/jpeg"},
			"Content-Length": {strconv.Itoa(len(img))},
		})
		if err != nil {
			return err
		}
		if _, err := part.Write(img); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		frames++
		s.metrics.IncStreamFrame()
	}
}
