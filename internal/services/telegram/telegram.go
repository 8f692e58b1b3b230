// Package telegram sends alert texts and snapshots to a Telegram chat.
package telegram

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
)

const defaultBaseURL = "https://api.telegram.org"

type Config struct {
	Token   string        `yaml:"token" env:"TELEGRAM_BOT_TOKEN"`
	ChatID  string        `yaml:"chat_id" env:"TELEGRAM_CHAT_ID"`
	BaseURL string        `yaml:"base_url" env:"TELEGRAM_BASE_URL"`
	Timeout time.Duration `yaml:"timeout" env:"TELEGRAM_TIMEOUT"`
}

func (c Config) Enabled() bool {
	return c.Token != "" && c.ChatID != ""
}

type Client struct {
	chatID  string
	baseURL string
	http    *http.Client
}

func NewClient(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		chatID:  cfg.ChatID,
		baseURL: base + "/bot" + cfg.Token,
		http:    &http.Client{Timeout: timeout},
	}
}

// SendAlert posts a plain text message.
func (c *Client) SendAlert(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]string{"chat_id": c.chatID, "text": text})
	if err != nil {
		return errors.Wrap(err, "marshal message")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sendMessage", bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

// SendSnapshot uploads a JPEG with an optional caption.
func (c *Client) SendSnapshot(ctx context.Context, image []byte, caption string) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("chat_id", c.chatID); err != nil {
		return errors.Wrap(err, "write chat id")
	}
	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return errors.Wrap(err, "write caption")
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="photo"; filename="alert.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(h)
	if err != nil {
		return errors.Wrap(err, "create form part")
	}
	if _, err := part.Write(image); err != nil {
		return errors.Wrap(err, "write image data")
	}
	if err := writer.Close(); err != nil {
		return errors.Wrap(err, "close writer")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sendPhoto", &buf)
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return c.do(req)
}

func (c *Client) do(req *http.Request) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "http request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return errors.Errorf("bad status: %s, error: %s", resp.Status, body)
	}
	return nil
}
