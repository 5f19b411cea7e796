package logger

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
)

const (
	defaultSinkBuffer  = 1024
	sinkMaxBatch       = 100
	sinkFlushInterval  = time.Second
	sinkRequestTimeout = 5 * time.Second
)

// sinkCore encodes entries and hands them to a sinkWriter without blocking.
type sinkCore struct {
	zapcore.LevelEnabler
	enc zapcore.Encoder
	w   *sinkWriter
}

var _ zapcore.Core = (*sinkCore)(nil)

func (c *sinkCore) With(fields []zapcore.Field) zapcore.Core {
	enc := c.enc.Clone()
	for _, f := range fields {
		f.AddTo(enc)
	}
	return &sinkCore{LevelEnabler: c.LevelEnabler, enc: enc, w: c.w}
}

func (c *sinkCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *sinkCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	buf, err := c.enc.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	line := bytes.TrimRight(buf.Bytes(), "\n")
	entry := make([]byte, len(line))
	copy(entry, line)
	buf.Free()
	c.w.enqueue(entry)
	return nil
}

func (c *sinkCore) Sync() error {
	return nil
}

// sinkWriter ships encoded entries to an HTTP intake in batches.
type sinkWriter struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client

	entries chan []byte
	dropped uint64

	chStop chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func newSinkWriter(name, url string, headers map[string]string, buffer int) *sinkWriter {
	return &sinkWriter{
		name:    name,
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: sinkRequestTimeout},
		entries: make(chan []byte, buffer),
		chStop:  make(chan struct{}),
	}
}

// enqueue drops the entry when the buffer is full.
func (w *sinkWriter) enqueue(entry []byte) {
	select {
	case w.entries <- entry:
	default:
		atomic.AddUint64(&w.dropped, 1)
	}
}

// Dropped returns how many entries were discarded on a full buffer.
func (w *sinkWriter) Dropped() uint64 {
	return atomic.LoadUint64(&w.dropped)
}

func (w *sinkWriter) start() {
	w.wg.Add(1)
	go w.run()
}

func (w *sinkWriter) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(sinkFlushInterval)
	defer ticker.Stop()

	var batch [][]byte
	for {
		select {
		case e := <-w.entries:
			batch = append(batch, e)
			if len(batch) >= sinkMaxBatch {
				w.flush(batch)
				batch = nil
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = nil
			}
		case <-w.chStop:
			for {
				select {
				case e := <-w.entries:
					batch = append(batch, e)
				default:
					if len(batch) > 0 {
						w.flush(batch)
					}
					return
				}
			}
		}
	}
}

// flush posts a JSON array of entries. Delivery failures are swallowed since
// logging must never take the process down.
func (w *sinkWriter) flush(batch [][]byte) {
	body := make([]byte, 0, 2+len(batch)*256)
	body = append(body, '[')
	body = append(body, bytes.Join(batch, []byte{','})...)
	body = append(body, ']')

	ctx, cancel := context.WithTimeout(context.Background(), sinkRequestTimeout)
	defer cancel()
	if err := w.post(ctx, body); err != nil {
		atomic.AddUint64(&w.dropped, uint64(len(batch)))
	}
}

func (w *sinkWriter) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.Errorf("%s sink returned status %d", w.name, resp.StatusCode)
	}
	return nil
}

// Close stops the background goroutine after a final flush.
func (w *sinkWriter) Close() error {
	w.once.Do(func() {
		close(w.chStop)
	})
	w.wg.Wait()
	return nil
}
