package alert

import (
	"context"

	"go.uber.org/zap"
)

// Sink is one delivery channel for alert events.
type Sink interface {
	Name() string
	Publish(ctx context.Context, event Event) error
}

// LogSink writes events to the structured log. It never fails.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink backed by the given logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Publish(_ context.Context, event Event) error {
	fields := []zap.Field{
		zap.String("alert_id", event.ID),
		zap.String("severity", string(event.Severity)),
		zap.Time("at", event.Timestamp),
	}
	if event.CorrelationID != "" {
		fields = append(fields, zap.String("correlation_id", event.CorrelationID))
	}
	for k, v := range event.Details {
		fields = append(fields, zap.String(k, v))
	}

	switch event.Severity {
	case SeverityCritical:
		s.logger.Error(event.Message, fields...)
	case SeverityWarning:
		s.logger.Warn(event.Message, fields...)
	default:
		s.logger.Info(event.Message, fields...)
	}
	return nil
}

// ChanSink delivers events to a buffered channel, dropping when the
// receiver lags. Useful for tests and for embedding applications.
type ChanSink struct {
	ch chan Event
}

// NewChanSink creates a sink with the given buffer size.
func NewChanSink(buffer int) *ChanSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChanSink{ch: make(chan Event, buffer)}
}

func (s *ChanSink) Name() string { return "chan" }

// Events exposes the receive side of the sink.
func (s *ChanSink) Events() <-chan Event { return s.ch }

func (s *ChanSink) Publish(_ context.Context, event Event) error {
	select {
	case s.ch <- event:
	default:
		// Receiver lagging; drop rather than block.
	}
	return nil
}
