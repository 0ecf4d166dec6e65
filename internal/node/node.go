package node

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/CZERTAINLY/vcgencmd-node/internal/log"
	"github.com/CZERTAINLY/vcgencmd-node/internal/runner"
	"github.com/CZERTAINLY/vcgencmd-node/internal/vcgencmd"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrUnsupportedPlatform = errors.New("vcgencmd not supported on this platform")
	ErrReentrantTrigger    = errors.New("previous vcgencmd command hasn't finished yet")
	ErrMalformedParameter  = vcgencmd.ErrMalformedParameter
	ErrClosed              = errors.New("node closed")
)

// ProcessError is reported when vcgencmd fails or its output can't be parsed.
type ProcessError struct {
	Command vcgencmd.Command
	Stderr  string
	Err     error
}

func (e *ProcessError) Error() string {
	msg := "executing vcgencmd " + e.Command.String() + ": " + e.Err.Error()
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// ProcessRunner starts a single external process at a time.
type ProcessRunner interface {
	Start(ctx context.Context, cmd runner.Command, done runner.DoneFunc) (int, error)
	Kill()
}

type state int

const (
	stateIdle state = iota
	stateRunning
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// invocation is the process in flight and the trigger which started it.
type invocation struct {
	msg  Message
	span trace.Span
}

// Node exposes one vcgencmd sub-command as a flow node. It runs at most one
// process at a time, triggers arriving meanwhile are dropped.
type Node struct {
	params  vcgencmd.Params
	emitter Emitter
	runner  ProcessRunner
	status  StatusFunc
	onError func(ctx context.Context, err error)
	logger  *slog.Logger
	tracer  trace.Tracer

	mx          sync.Mutex
	state       state
	current     *invocation
	unsupported bool
	closed      bool
	inflight    sync.WaitGroup
}

func New(params vcgencmd.Params, emitter Emitter) (*Node, error) {
	if _, err := vcgencmd.ParseCommand(params.Command.String()); err != nil {
		return nil, err
	}
	if emitter == nil {
		return nil, errors.New("emitter is nil")
	}
	if params.Binary == "" {
		params.Binary = vcgencmd.DefaultBinary
	}
	return &Node{
		params:  params,
		emitter: emitter,
		runner:  runner.New(),
		tracer:  otel.Tracer("github.com/CZERTAINLY/vcgencmd-node/internal/node"),
	}, nil
}

// WithRunner replaces the process runner. It must be called before the
// node receives any trigger.
func (n *Node) WithRunner(r ProcessRunner) *Node {
	n.runner = r
	return n
}

func (n *Node) WithStatus(f StatusFunc) *Node {
	n.status = f
	return n
}

// WithErrorFunc registers a callback for process failures, in addition to
// logging them.
func (n *Node) WithErrorFunc(f func(ctx context.Context, err error)) *Node {
	n.onError = f
	return n
}

func (n *Node) WithLogger(l *slog.Logger) *Node {
	n.logger = l
	return n
}

func (n *Node) Params() vcgencmd.Params {
	return n.params
}

// Probe runs the version sub-command once. If it fails, the node is
// permanently disabled and every trigger is ignored.
func (n *Node) Probe(ctx context.Context) error {
	inv, err := vcgencmd.Build(vcgencmd.Params{Binary: n.params.Binary, Command: vcgencmd.Version}, nil)
	if err != nil {
		return err
	}

	results := make(chan runner.Result, 1)
	_, err = n.runner.Start(ctx, runner.Command{Path: inv.Binary, Args: inv.Args}, func(res runner.Result) {
		results <- res
	})
	if errors.Is(err, runner.ErrInProgress) {
		// a busy runner says nothing about the platform
		n.log().WarnContext(ctx, ErrReentrantTrigger.Error(), "command", vcgencmd.Version)
		return ErrReentrantTrigger
	}
	if err == nil {
		select {
		case <-ctx.Done():
			n.runner.Kill()
			return ctx.Err()
		case res := <-results:
			err = res.Err
			if msg := strings.TrimSpace(bufString(res.Stderr)); err == nil && msg != "" {
				err = errors.New(msg)
			}
		}
	}
	if err == nil {
		return nil
	}

	n.mx.Lock()
	n.unsupported = true
	n.mx.Unlock()
	n.log().WarnContext(ctx, "vcgencmd is not supported on this platform", "binary", n.params.Binary, "error", err)
	n.setStatus(ctx, StatusUnsupported)
	return fmt.Errorf("%w: %w", ErrUnsupportedPlatform, err)
}

// OnTrigger starts the configured sub-command for msg. It does not wait for
// the process: results are emitted once it exits. The returned error tells
// why a trigger was dropped.
func (n *Node) OnTrigger(ctx context.Context, msg Message) error {
	msg, err := msg.withID()
	if err != nil {
		return err
	}
	ctx = log.ContextAttrs(ctx, slog.String("msgid", msg.ID()))

	n.mx.Lock()
	defer n.mx.Unlock()

	switch {
	case n.closed:
		return ErrClosed
	case n.unsupported:
		return ErrUnsupportedPlatform
	case n.state == stateRunning:
		n.log().WarnContext(ctx, ErrReentrantTrigger.Error(), "command", n.params.Command)
		return ErrReentrantTrigger
	}

	inv, err := vcgencmd.Build(n.params, msg.Payload())
	if err != nil {
		n.log().WarnContext(ctx, "ignoring trigger", "command", n.params.Command, "error", err)
		return err
	}

	// completion outlives the trigger's context
	ctx = context.WithoutCancel(ctx)
	ctx, span := n.tracer.Start(ctx, "vcgencmd."+n.params.Command.String(),
		trace.WithAttributes(
			attribute.String("vcgencmd.command", n.params.Command.String()),
			attribute.StringSlice("vcgencmd.args", inv.Args),
			attribute.String("message.id", msg.ID()),
		),
	)
	current := &invocation{msg: msg, span: span}

	pid, err := n.runner.Start(ctx, runner.Command{Path: inv.Binary, Args: inv.Args}, func(res runner.Result) {
		n.complete(ctx, current, res)
	})
	if errors.Is(err, runner.ErrInProgress) {
		span.End()
		n.log().WarnContext(ctx, ErrReentrantTrigger.Error(), "command", n.params.Command)
		return ErrReentrantTrigger
	}
	if err != nil {
		perr := &ProcessError{Command: n.params.Command, Err: err}
		span.RecordError(perr)
		span.SetStatus(codes.Error, perr.Error())
		span.End()
		n.fail(ctx, perr)
		return perr
	}

	span.SetAttributes(attribute.Int("process.pid", pid))
	n.state = stateRunning
	n.current = current
	n.inflight.Add(1)
	n.log().DebugContext(ctx, "vcgencmd started", "invocation", inv.String(), "pid", pid, "state", n.state.String())
	n.setStatus(ctx, StatusRunning(pid))
	return nil
}

func (n *Node) complete(ctx context.Context, inv *invocation, res runner.Result) {
	n.mx.Lock()
	if n.current != inv {
		// killed by OnShutdown
		n.mx.Unlock()
		return
	}
	n.current = nil
	n.state = stateIdle
	n.mx.Unlock()
	n.log().DebugContext(ctx, "vcgencmd exited", "command", n.params.Command, "state", stateIdle.String())

	defer n.inflight.Done()
	defer inv.span.End()
	n.setStatus(ctx, StatusClear)

	if res.Err != nil {
		n.failSpan(ctx, inv.span, &ProcessError{
			Command: n.params.Command,
			Stderr:  strings.TrimSpace(bufString(res.Stderr)),
			Err:     res.Err,
		})
		return
	}

	results, err := vcgencmd.Parse(n.params.Command, strings.TrimSpace(bufString(res.Stdout)), n.params.SplitThrottled)
	if err != nil {
		n.failSpan(ctx, inv.span, &ProcessError{Command: n.params.Command, Err: err})
		return
	}
	inv.span.SetAttributes(attribute.Int("vcgencmd.results", len(results)))
	inv.span.SetStatus(codes.Ok, "")
	n.emit(ctx, inv.msg, results)
}

// emit sends one message per result, in order.
func (n *Node) emit(ctx context.Context, msg Message, results []vcgencmd.Result) {
	for _, r := range results {
		out, err := Derive(msg, r.Payload, r.Topic)
		if err != nil {
			n.log().ErrorContext(ctx, "can't derive message", "topic", r.Topic, "error", err)
			continue
		}
		if err := n.emitter.Emit(ctx, out); err != nil {
			n.log().ErrorContext(ctx, "emitting message failed", "topic", r.Topic, "error", err)
		}
	}
}

// OnShutdown kills the process in flight, if any. No results are emitted
// for it and further triggers are rejected.
func (n *Node) OnShutdown(ctx context.Context) {
	n.mx.Lock()
	inv := n.current
	n.current = nil
	n.state = stateIdle
	n.closed = true
	n.mx.Unlock()

	if inv != nil {
		n.runner.Kill()
		inv.span.AddEvent("killed")
		inv.span.End()
		n.inflight.Done()
		n.log().DebugContext(ctx, "vcgencmd killed", "command", n.params.Command)
	}
	n.setStatus(ctx, StatusClear)
}

// Wait blocks until the process in flight, if any, has been handled.
func (n *Node) Wait() {
	n.inflight.Wait()
}

// Running reports whether a process is in flight.
func (n *Node) Running() bool {
	n.mx.Lock()
	defer n.mx.Unlock()
	return n.state == stateRunning
}

// Unsupported reports whether Probe disabled the node.
func (n *Node) Unsupported() bool {
	n.mx.Lock()
	defer n.mx.Unlock()
	return n.unsupported
}

func (n *Node) failSpan(ctx context.Context, span trace.Span, err *ProcessError) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	n.fail(ctx, err)
}

func (n *Node) fail(ctx context.Context, err *ProcessError) {
	n.log().ErrorContext(ctx, "vcgencmd failed", "command", err.Command, "error", err)
	if n.onError != nil {
		n.onError(ctx, err)
	}
}

func (n *Node) setStatus(ctx context.Context, s Status) {
	if n.status != nil {
		n.status(ctx, s)
	}
}

func (n *Node) log() *slog.Logger {
	if n.logger != nil {
		return n.logger
	}
	return slog.Default()
}

func bufString(b *bytes.Buffer) string {
	if b == nil {
		return ""
	}
	return b.String()
}
