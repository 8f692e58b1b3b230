package capture

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/metrics"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/models"
)

// Source yields encoded frames in order. It returns io.EOF when exhausted.
type Source interface {
	Next(ctx context.Context) ([]byte, error)
}

// NewFrame reads the image header to learn the frame size. The pixels are
// not decoded.
func NewFrame(data []byte, at time.Time) (models.Frame, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return models.Frame{}, errors.Wrap(err, "decode frame header")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return models.Frame{}, errors.Errorf("empty %s frame", format)
	}
	return models.Frame{
		Data:       data,
		Width:      cfg.Width,
		Height:     cfg.Height,
		CapturedAt: at,
	}, nil
}

// Runner pulls frames from a Source into a Slot.
type Runner struct {
	Session  string
	Interval time.Duration
	Clock    clock.Clock
	Logger   *zap.SugaredLogger
	Metrics  *metrics.Metrics
}

// Run publishes frames until the source ends, fails or ctx is done. The slot
// is closed on return so the consumer stops waiting. Undecodable frames are
// skipped.
func (r Runner) Run(ctx context.Context, src Source, slot *Slot) (err error) {
	clk := r.Clock
	if clk == nil {
		clk = clock.New()
	}
	defer func() {
		if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
			slot.Close(nil)
			err = nil
			return
		}
		slot.Close(err)
	}()

	var ticker *clock.Ticker
	if r.Interval > 0 {
		ticker = clk.Ticker(r.Interval)
		defer ticker.Stop()
	}

	for {
		data, err := src.Next(ctx)
		if err != nil {
			return errors.Wrap(err, "read frame")
		}

		frame, err := NewFrame(data, clk.Now())
		if err != nil {
			r.Logger.Warnw("skipping frame", "session", r.Session, "error", err)
		} else if slot.Publish(frame) && r.Metrics != nil {
			r.Metrics.FramesDropped.WithLabelValues(r.Session).Inc()
		}

		if ticker == nil {
			if err := ctx.Err(); err != nil {
				return err
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
