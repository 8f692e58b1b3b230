package detection

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/models"
)

func newDetector(t *testing.T, handler http.HandlerFunc, cfg Config) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg.Endpoint = srv.URL
	return NewClient("persons", cfg, zaptest.NewLogger(t).Sugar())
}

func TestDetect(t *testing.T) {
	gotFrame := make(chan []byte, 1)
	c := newDetector(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predict" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(f)
		gotFrame <- body
		w.Write([]byte(`[
			{"class": "person", "score": 0.91, "box": [10.7, 20.2, 110.9, 300.0]},
			{"class": "person", "score": 0.30, "box": [0, 0, 5, 5]},
			{"class": "dog", "score": 0.99, "box": [0, 0, 50, 50]},
			{"class": "person", "score": 0.95, "box": [1, 2, 3]}
		]`))
	}, Config{Confidence: 0.6, Classes: []string{"person"}})

	dets, err := c.Detect(context.Background(), []byte{0xff, 0xd8})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, <-gotFrame, test.ShouldResemble, []byte{0xff, 0xd8})
	test.That(t, dets, test.ShouldResemble, []models.Detection{{
		Box:        models.BoundingBox{X1: 10, Y1: 20, X2: 110, Y2: 300},
		Confidence: 0.91,
		Label:      "person",
	}})
}

func TestDetectBadStatus(t *testing.T) {
	c := newDetector(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}, Config{})

	_, err := c.Detect(context.Background(), []byte{1})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "model not loaded")
}

func TestReady(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	c := newDetector(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" && healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}, Config{})

	test.That(t, c.Ready(context.Background()), test.ShouldBeNil)
	healthy.Store(false)
	test.That(t, c.Ready(context.Background()), test.ShouldNotBeNil)

	down := NewClient("ppe", Config{Endpoint: "http://127.0.0.1:1"}, zaptest.NewLogger(t).Sugar())
	test.That(t, down.Ready(context.Background()), test.ShouldNotBeNil)
}
