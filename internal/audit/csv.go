// Package audit writes the append-only violation trail to a CSV file.
package audit

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

const timeLayout = "2006-01-02 15:04:05"

var header = []string{"Timestamp", "Event Type", "Details", "Count"}

// CSVWriter appends audit records to a file, writing the header when the
// file is new. It is safe for concurrent use.
type CSVWriter struct {
	mu    sync.Mutex
	file  *os.File
	w     *csv.Writer
	clock clock.Clock
}

func NewCSVWriter(path string, clk clock.Clock) (*CSVWriter, error) {
	if clk == nil {
		clk = clock.New()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create log directory %s", dir)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "stat %s", path)
	}

	cw := &CSVWriter{file: f, w: csv.NewWriter(f), clock: clk}
	if info.Size() == 0 {
		if err := cw.write(header); err != nil {
			f.Close()
			return nil, err
		}
	}
	return cw, nil
}

// LogEvent appends one row. The session, when set, prefixes the details.
func (c *CSVWriter) LogEvent(_ context.Context, sessionID string, count int, eventType, details string) error {
	if sessionID != "" {
		details = sessionID + ": " + details
	}
	return c.write([]string{
		c.clock.Now().Format(timeLayout),
		eventType,
		details,
		strconv.Itoa(count),
	})
}

func (c *CSVWriter) write(record []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.w.Write(record); err != nil {
		return errors.Wrap(err, "write audit record")
	}
	c.w.Flush()
	return errors.Wrap(c.w.Error(), "flush audit record")
}

func (c *CSVWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.w.Flush()
	return c.file.Close()
}
