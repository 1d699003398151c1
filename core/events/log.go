package events

import (
	"encoding/json"
	"log/slog"

	"sudovault/core/types"
)

// Payloader is implemented by events that can render themselves into the
// canonical wire representation.
type Payloader interface {
	Event() *types.Event
}

// LogEmitter renders events as EVENT_JSON log lines, the format consumed by
// platform indexers.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter constructs a LogEmitter writing through the supplied logger.
// A nil logger falls back to slog's default.
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

// Emit implements the Emitter interface.
func (l *LogEmitter) Emit(evt Event) {
	if l == nil || evt == nil {
		return
	}
	payloader, ok := evt.(Payloader)
	if !ok {
		l.logger.Info("EVENT_JSON:" + `{"event":"` + evt.EventType() + `","data":{}}`)
		return
	}
	payload := payloader.Event()
	if payload == nil {
		return
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		l.logger.Warn("event encode failed", "event", evt.EventType(), "error", err)
		return
	}
	l.logger.Info("EVENT_JSON:" + string(encoded))
}

// CollectingEmitter records emitted events in order. Intended for tests and
// for the daemon's in-memory event feed.
type CollectingEmitter struct {
	Events []Event
}

// Emit implements the Emitter interface.
func (c *CollectingEmitter) Emit(evt Event) {
	if c == nil || evt == nil {
		return
	}
	c.Events = append(c.Events, evt)
}

// Names returns the event type names in emission order.
func (c *CollectingEmitter) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.Events))
	for _, evt := range c.Events {
		names = append(names, evt.EventType())
	}
	return names
}
