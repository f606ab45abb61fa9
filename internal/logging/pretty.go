package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

var (
	prefixStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	debugStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	infoStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	keyStyle    = lipgloss.NewStyle().Faint(true)
)

// Prefix is printed in front of every pretty log line.
const Prefix = "[unifee]"

// PrettyHandler is a slog.Handler writing one colored line per record:
//
//	[unifee] message key=value ...
type PrettyHandler struct {
	out   io.Writer
	level slog.Leveler
	attrs []slog.Attr
	mu    *sync.Mutex
}

// NewPrettyHandler creates a console handler writing to out.
func NewPrettyHandler(out io.Writer, level slog.Leveler) *PrettyHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &PrettyHandler{
		out:   out,
		level: level,
		mu:    &sync.Mutex{},
	}
}

// Enabled implements slog.Handler.
func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer

	buf.WriteString(prefixStyle.Render(Prefix))
	buf.WriteByte(' ')
	buf.WriteString(levelStyle(r.Level).Render(r.Message))

	writeAttr := func(a slog.Attr) bool {
		if a.Equal(slog.Attr{}) {
			return true
		}
		buf.WriteByte(' ')
		buf.WriteString(keyStyle.Render(a.Key + "="))
		buf.WriteString(fmt.Sprint(a.Value.Resolve().Any()))
		return true
	}

	for _, a := range h.attrs {
		writeAttr(a)
	}
	r.Attrs(writeAttr)
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(buf.Bytes())
	return err
}

// WithAttrs implements slog.Handler.
func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &PrettyHandler{out: h.out, level: h.level, attrs: merged, mu: h.mu}
}

// WithGroup implements slog.Handler. Groups are flattened.
func (h *PrettyHandler) WithGroup(string) slog.Handler {
	return h
}

func levelStyle(level slog.Level) lipgloss.Style {
	switch {
	case level >= slog.LevelError:
		return errorStyle
	case level >= slog.LevelWarn:
		return warnStyle
	case level >= slog.LevelInfo:
		return infoStyle
	default:
		return debugStyle
	}
}
