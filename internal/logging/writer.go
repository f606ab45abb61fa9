package logging

import (
	"bytes"
	"context"
	"strings"
	"sync"
)

// LineWriter is an io.Writer that forwards each complete line written to it
// as one log record. Output of external commands is piped through it.
type LineWriter struct {
	logger Logger
	ctx    context.Context
	stderr bool
	fields []interface{}

	mu  sync.Mutex
	buf []byte
}

// NewLineWriter creates a writer logging lines at info level, or at warn
// level when stderr is true.
func NewLineWriter(ctx context.Context, logger Logger, stderr bool, fields ...interface{}) *LineWriter {
	return &LineWriter{
		logger: logger,
		ctx:    ctx,
		stderr: stderr,
		fields: fields,
	}
}

// Write implements io.Writer.
func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.logLine(w.buf[:i])
		w.buf = w.buf[i+1:]
	}

	return len(p), nil
}

// Close flushes a trailing partial line.
func (w *LineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.buf) > 0 {
		w.logLine(w.buf)
		w.buf = nil
	}
	return nil
}

func (w *LineWriter) logLine(line []byte) {
	msg := strings.TrimRight(string(line), "\r")
	if strings.TrimSpace(msg) == "" {
		return
	}
	if w.stderr {
		w.logger.Warn(w.ctx, nil, msg, w.fields...)
		return
	}
	w.logger.Info(w.ctx, msg, w.fields...)
}
