package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	gocron "github.com/go-co-op/gocron/v2"
	"github.com/nats-io/nats.go"

	"github.com/CZERTAINLY/vcgencmd-node/internal/model"
	"github.com/CZERTAINLY/vcgencmd-node/internal/node"
)

// Node is the part of *node.Node driven by the Supervisor.
type Node interface {
	Probe(ctx context.Context) error
	OnTrigger(ctx context.Context, msg node.Message) error
	OnShutdown(ctx context.Context)
	Wait()
}

var _ Node = (*node.Node)(nil)

type Supervisor struct {
	node      Node
	scheduler gocron.Scheduler
	sub       *nats.Subscription
	msgs      chan *nats.Msg
	triggers  chan node.Message
	done      chan struct{}
}

func NewSupervisor(n Node) *Supervisor {
	return &Supervisor{
		node:     n,
		msgs:     make(chan *nats.Msg, 64),
		triggers: make(chan node.Message, 1),
		done:     make(chan struct{}),
	}
}

// WithSchedule triggers the node periodically with the configured payload.
func (s *Supervisor) WithSchedule(ctx context.Context, cfg *model.Schedule) (*Supervisor, error) {
	scheduler, err := newScheduler(ctx, cfg, func() {
		msg, err := node.NewMessage(cfg.Payload)
		if err != nil {
			slog.ErrorContext(ctx, "creating scheduled trigger", "error", err)
			return
		}
		if err := s.Trigger(ctx, msg); err != nil {
			slog.DebugContext(ctx, "scheduled trigger dropped", "error", err)
		}
	})
	if err != nil {
		return nil, err
	}
	s.scheduler = scheduler
	return s, nil
}

// WithNATS subscribes to subject. Every message received becomes a trigger.
func (s *Supervisor) WithNATS(conn *nats.Conn, subject string) (*Supervisor, error) {
	if subject == "" {
		return nil, errors.New("please define the trigger subject")
	}
	sub, err := conn.ChanSubscribe(subject, s.msgs)
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	s.sub = sub
	return s, nil
}

// Trigger hands msg over to the event loop. It blocks until Do accepts it,
// ctx is done or Do has returned.
func (s *Supervisor) Trigger(ctx context.Context, msg node.Message) error {
	select {
	case s.triggers <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return node.ErrClosed
	}
}

// Do runs the supervisor event loop. The node is probed once, then triggers
// from the schedule, NATS and Trigger are delivered to it one by one.
//
// On ctx cancellation the subscription is drained, the scheduler stopped and
// the node shut down, killing any process in flight.
func (s *Supervisor) Do(ctx context.Context) error {
	slog.DebugContext(ctx, "starting a supervisor")

	if err := s.node.Probe(ctx); err != nil {
		// the node stays registered, it just ignores triggers
		slog.DebugContext(ctx, "probe failed", "error", err)
	}

	defer func() {
		shutdownCtx := context.WithoutCancel(ctx)
		s.node.OnShutdown(shutdownCtx)
		s.node.Wait()
	}()

	if s.scheduler != nil {
		s.scheduler.Start()
		defer func() {
			err := s.scheduler.Shutdown()
			if err != nil {
				slog.ErrorContext(ctx, "shutting down gocron has failed", "error", err)
			}
		}()
	}

	if s.sub != nil {
		defer func() {
			if err := s.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
				slog.ErrorContext(ctx, "unsubscribing has failed", "subject", s.sub.Subject, "error", err)
			}
		}()
	}

	// deferred calls run in reverse: stop accepting, then sources, then the node
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-s.triggers:
			s.trigger(ctx, msg)
		case raw := <-s.msgs:
			msg, err := fromNATS(raw)
			if err != nil {
				slog.WarnContext(ctx, "ignoring nats message", "subject", raw.Subject, "error", err)
				continue
			}
			s.trigger(ctx, msg)
		}
	}
}

func (s *Supervisor) trigger(ctx context.Context, msg node.Message) {
	err := s.node.OnTrigger(ctx, msg)
	switch {
	case err == nil:
	case errors.Is(err, node.ErrReentrantTrigger),
		errors.Is(err, node.ErrUnsupportedPlatform),
		errors.Is(err, node.ErrMalformedParameter):
		// already reported by the node
		slog.DebugContext(ctx, "trigger dropped", "error", err)
	default:
		slog.ErrorContext(ctx, "trigger failed", "error", err)
	}
}

func fromNATS(m *nats.Msg) (node.Message, error) {
	if m == nil {
		return nil, errors.New("nil message")
	}
	return node.ParseMessage(m.Data)
}

func newScheduler(ctx context.Context, cfg *model.Schedule, task func()) (gocron.Scheduler, error) {
	if cfg == nil {
		return nil, errors.New("service.schedule is nil")
	}
	interval, err := cfg.Interval()
	if err != nil {
		return nil, fmt.Errorf("parsing service.schedule: %w", err)
	}
	var job gocron.JobDefinition
	if cfg.Cron != "" {
		job = gocron.CronJob(cfg.Cron, false)
	} else {
		job = gocron.DurationJob(interval)
	}
	slog.DebugContext(ctx, "successfully parsed", "cron", cfg.Cron, "duration", cfg.Duration, "interval", interval.String())

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		job,
		gocron.NewTask(task),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	return s, nil
}
