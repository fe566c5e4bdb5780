package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ConsoleMessage represents a console message with timestamp
type ConsoleMessage struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"` // "debug", "info", "warning", "error"
}

// ConsoleHub fans log messages out to every connected client
type ConsoleHub struct {
	mu   sync.Mutex
	subs map[chan ConsoleMessage]struct{}
}

// NewConsoleHub creates a hub without subscribers
func NewConsoleHub() *ConsoleHub {
	return &ConsoleHub{subs: make(map[chan ConsoleMessage]struct{})}
}

// Subscribe returns a channel receiving messages published from now on
func (h *ConsoleHub) Subscribe(buffer int) chan ConsoleMessage {
	ch := make(chan ConsoleMessage, buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe stops delivery to ch
func (h *ConsoleHub) Unsubscribe(ch chan ConsoleMessage) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// Publish delivers msg to every subscriber with room for it. Slow
// subscribers miss messages instead of blocking the logger.
func (h *ConsoleHub) Publish(msg ConsoleMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

// ConsoleHandler is a slog.Handler publishing records at Info and above to
// a ConsoleHub. Records are also passed on to next when it is set.
type ConsoleHandler struct {
	hub    *ConsoleHub
	next   slog.Handler
	attrs  []slog.Attr
	prefix string
}

// NewConsoleHandler creates a handler publishing to hub and forwarding to next
func NewConsoleHandler(hub *ConsoleHub, next slog.Handler) *ConsoleHandler {
	return &ConsoleHandler{hub: hub, next: next}
}

// Enabled implements slog.Handler
func (h *ConsoleHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if level >= slog.LevelInfo {
		return true
	}
	return h.next != nil && h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler
func (h *ConsoleHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelInfo {
		ts := r.Time
		if ts.IsZero() {
			ts = time.Now()
		}
		h.hub.Publish(ConsoleMessage{
			Message:   h.format(r),
			Timestamp: ts,
			Level:     levelName(r.Level),
		})
	}
	if h.next != nil && h.next.Enabled(ctx, r.Level) {
		return h.next.Handle(ctx, r)
	}
	return nil
}

// WithAttrs implements slog.Handler
func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	c.attrs = append(c.attrs, h.attrs...)
	for _, a := range attrs {
		c.attrs = append(c.attrs, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	if h.next != nil {
		c.next = h.next.WithAttrs(attrs)
	}
	return &c
}

// WithGroup implements slog.Handler
func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.prefix = h.prefix + name + "."
	if h.next != nil {
		c.next = h.next.WithGroup(name)
	}
	return &c
}

func (h *ConsoleHandler) format(r slog.Record) string {
	var b strings.Builder
	b.WriteString(r.Message)
	for _, a := range h.attrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Resolve())
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s%s=%v", h.prefix, a.Key, a.Value.Resolve())
		return true
	})
	return b.String()
}

func levelName(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "error"
	case l >= slog.LevelWarn:
		return "warning"
	case l >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}
