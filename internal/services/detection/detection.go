package detection

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/models"
)

type Config struct {
	Endpoint   string        `yaml:"endpoint" env:"ENDPOINT"`
	Confidence float64       `yaml:"confidence" env:"CONFIDENCE"`
	Classes    []string      `yaml:"classes" env:"CLASSES" envSeparator:","`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// wireDetection is the detector's JSON shape: box is [x1, y1, x2, y2].
type wireDetection struct {
	Class string    `json:"class"`
	Score float64   `json:"score"`
	Box   []float64 `json:"box"`
}

// Client talks to one detection model served over HTTP.
type Client struct {
	Name string

	cfg    Config
	http   *http.Client
	logger *zap.SugaredLogger
}

func NewClient(name string, cfg Config, logger *zap.SugaredLogger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		Name:   name,
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger.Named("detection").With("detector", name),
	}
}

// Detect posts an encoded frame to /predict and returns detections at or
// above the configured confidence, restricted to Classes when set.
func (c *Client) Detect(ctx context.Context, frame []byte) ([]models.Detection, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", "image/jpeg")

	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, errors.Wrap(err, "create form part")
	}
	if _, err := part.Write(frame); err != nil {
		return nil, errors.Wrap(err, "write image data")
	}
	if err := writer.Close(); err != nil {
		return nil, errors.Wrap(err, "close writer")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/predict", &buf)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "http request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, errors.Errorf("bad status: %s, error: %s", resp.Status, body)
	}

	var raw []wireDetection
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "decode detections")
	}

	dets := lo.FilterMap(raw, func(d wireDetection, _ int) (models.Detection, bool) {
		if len(d.Box) != 4 || d.Score < c.cfg.Confidence {
			return models.Detection{}, false
		}
		if len(c.cfg.Classes) > 0 && !lo.Contains(c.cfg.Classes, d.Class) {
			return models.Detection{}, false
		}
		return models.Detection{
			Box: models.BoundingBox{
				X1: int(d.Box[0]),
				Y1: int(d.Box[1]),
				X2: int(d.Box[2]),
				Y2: int(d.Box[3]),
			},
			Confidence: d.Score,
			Label:      d.Class,
		}, true
	})

	c.logger.Debugw("detect", "raw", len(raw), "kept", len(dets))
	return dets, nil
}

// Ready probes /health. A detector that is not ready at session start is
// treated as unavailable for the whole session.
func (c *Client) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+"/health", nil)
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "detector %s unreachable", c.Name)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("detector %s not ready: %s", c.Name, resp.Status)
	}
	return nil
}
