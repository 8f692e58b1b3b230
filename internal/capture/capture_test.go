package capture

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/metrics"
	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/models"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	test.That(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))), test.ShouldBeNil)
	return buf.Bytes()
}

type sliceSource struct {
	frames [][]byte
	err    error
}

func (s *sliceSource) Next(context.Context) ([]byte, error) {
	if len(s.frames) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

func TestSlotKeepsLatest(t *testing.T) {
	s := NewSlot()
	_, ok := s.Latest()
	test.That(t, ok, test.ShouldBeFalse)

	test.That(t, s.Publish(models.Frame{Width: 1}), test.ShouldBeFalse)
	test.That(t, s.Publish(models.Frame{Width: 2}), test.ShouldBeTrue)
	test.That(t, s.Publish(models.Frame{Width: 3}), test.ShouldBeTrue)
	test.That(t, s.Drops(), test.ShouldEqual, uint64(2))

	f, err := s.Next(context.Background(), 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.Seq, test.ShouldEqual, uint64(3))
	test.That(t, f.Width, test.ShouldEqual, 3)

	// consumed frames are not drops
	test.That(t, s.Publish(models.Frame{Width: 4}), test.ShouldBeFalse)

	latest, ok := s.Latest()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, latest.Seq, test.ShouldEqual, uint64(4))
}

func TestSlotNextWaits(t *testing.T) {
	s := NewSlot()
	done := make(chan models.Frame)
	go func() {
		f, err := s.Next(context.Background(), 0)
		if err == nil {
			done <- f
		}
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	s.Publish(models.Frame{Width: 7})

	select {
	case f := <-done:
		test.That(t, f.Width, test.ShouldEqual, 7)
	case <-time.After(2 * time.Second):
		t.Fatal("Next never returned")
	}
}

func TestSlotNextContext(t *testing.T) {
	s := NewSlot()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := s.Next(ctx, 0)
	test.That(t, errors.Is(err, context.DeadlineExceeded), test.ShouldBeTrue)
}

func TestSlotClose(t *testing.T) {
	s := NewSlot()
	s.Publish(models.Frame{Width: 1})
	s.Close(nil)
	test.That(t, s.Publish(models.Frame{Width: 2}), test.ShouldBeFalse)

	f, err := s.Next(context.Background(), 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.Width, test.ShouldEqual, 1)

	_, err = s.Next(context.Background(), f.Seq)
	test.That(t, errors.Is(err, ErrClosed), test.ShouldBeTrue)

	failed := NewSlot()
	failed.Close(errors.New("camera gone"))
	_, err = failed.Next(context.Background(), 0)
	test.That(t, err.Error(), test.ShouldEqual, "camera gone")
}

func TestNewFrame(t *testing.T) {
	at := time.Unix(100, 0)
	f, err := NewFrame(encodePNG(t, 64, 48), at)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.Width, test.ShouldEqual, 64)
	test.That(t, f.Height, test.ShouldEqual, 48)
	test.That(t, f.CapturedAt.Equal(at), test.ShouldBeTrue)

	_, err = NewFrame([]byte("not an image"), at)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestRunPublishesUntilEOF(t *testing.T) {
	src := &sliceSource{frames: [][]byte{
		encodePNG(t, 32, 24),
		[]byte("garbage"),
		encodePNG(t, 32, 24),
		encodePNG(t, 640, 480),
	}}
	slot := NewSlot()
	r := Runner{Session: "cam", Logger: zaptest.NewLogger(t).Sugar(), Metrics: metrics.New()}

	test.That(t, r.Run(context.Background(), src, slot), test.ShouldBeNil)
	test.That(t, slot.Drops(), test.ShouldEqual, uint64(2))

	f, err := slot.Next(context.Background(), 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.Seq, test.ShouldEqual, uint64(3))
	test.That(t, f.Width, test.ShouldEqual, 640)

	_, err = slot.Next(context.Background(), f.Seq)
	test.That(t, errors.Is(err, ErrClosed), test.ShouldBeTrue)
}

func TestRunSourceFailure(t *testing.T) {
	src := &sliceSource{err: errors.New("stream reset")}
	slot := NewSlot()
	r := Runner{Session: "cam", Logger: zaptest.NewLogger(t).Sugar()}

	err := r.Run(context.Background(), src, slot)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = slot.Next(context.Background(), 0)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, ErrClosed), test.ShouldBeFalse)
}
