package authcore

import (
	"io"
	"log/slog"

	"github.com/MrEthical07/authcore/internal/audit"
)

// AuditEvent is one security-relevant outcome delivered to an AuditSink.
type AuditEvent = audit.Event

// AuditSink receives audit events from the engine's dispatcher goroutine.
type AuditSink = audit.Sink

type (
	NoOpSink       = audit.NoOpSink
	ChannelSink    = audit.ChannelSink
	JSONWriterSink = audit.JSONWriterSink
	SlogSink       = audit.SlogSink
	MultiSink      = audit.MultiSink
)

func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// NewSlogSink logs every event at Info (success) or Warn (failure).
func NewSlogSink(logger *slog.Logger) SlogSink {
	return SlogSink{Logger: logger}
}
