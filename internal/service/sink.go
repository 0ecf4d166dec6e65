package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/CZERTAINLY/vcgencmd-node/internal/node"

	"github.com/nats-io/nats.go"
)

// WriteSink writes each message as a JSON line.
type WriteSink struct {
	mx sync.Mutex
	w  io.Writer
}

func NewWriteSink(w io.Writer) *WriteSink {
	return &WriteSink{w: w}
}

func (s *WriteSink) Emit(_ context.Context, msg node.Message) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.w == nil {
		s.w = os.Stdout
	}
	line := make([]byte, 0, len(msg)+1)
	line = append(line, msg...)
	line = append(line, '\n')
	_, err := s.w.Write(line)
	return err
}

// Publisher is the part of *nats.Conn the sinks need.
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// NATSSink publishes each message to a subject.
type NATSSink struct {
	conn    Publisher
	subject string
}

func NewNATSSink(conn Publisher, subject string) (*NATSSink, error) {
	if conn == nil {
		return nil, errors.New("publisher is nil")
	}
	if subject == "" {
		return nil, errors.New("please define the output subject")
	}
	return &NATSSink{conn: conn, subject: subject}, nil
}

func (s *NATSSink) Emit(ctx context.Context, msg node.Message) error {
	if err := s.conn.Publish(s.subject, msg); err != nil {
		return fmt.Errorf("publishing to %s: %w", s.subject, err)
	}
	slog.DebugContext(ctx, "message published", "subject", s.subject, "topic", msg.Topic())
	return nil
}

// MultiSink emits to every sink and joins their errors.
type MultiSink []node.Emitter

func (m MultiSink) Emit(ctx context.Context, msg node.Message) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NATSStatus publishes node status changes as JSON.
func NATSStatus(conn Publisher, subject string) node.StatusFunc {
	return func(ctx context.Context, s node.Status) {
		b, err := json.Marshal(s)
		if err != nil {
			slog.ErrorContext(ctx, "encoding status failed", "error", err)
			return
		}
		if err := conn.Publish(subject, b); err != nil {
			slog.WarnContext(ctx, "publishing status failed", "subject", subject, "error", err)
		}
	}
}

// LogStatus logs node status changes.
func LogStatus(ctx context.Context, s node.Status) {
	slog.DebugContext(ctx, "node status", "fill", s.Fill, "shape", s.Shape, "text", s.Text)
}
