package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/CZERTAINLY/vcgencmd-node/internal/log"
	"github.com/CZERTAINLY/vcgencmd-node/internal/model"
	"github.com/CZERTAINLY/vcgencmd-node/internal/node"
	"github.com/CZERTAINLY/vcgencmd-node/internal/service"
	"github.com/CZERTAINLY/vcgencmd-node/internal/tracing"
	"github.com/CZERTAINLY/vcgencmd-node/internal/vcgencmd"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func doRun(cmd *cobra.Command, args []string) error {
	ctx := log.ContextAttrs(cmd.Context(), slog.Group("vcgencmd",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	))

	params := config.Node.Params()
	if c, _ := cmd.Flags().GetString("command"); c != "" {
		params.Command = vcgencmd.Command(c)
	}

	var payload any = ""
	if len(args) == 1 {
		payload = parsePayload(args[0])
	}
	msg, err := node.NewMessage(payload)
	if err != nil {
		return err
	}

	var failure error
	n, err := node.New(params, service.NewWriteSink(cmd.OutOrStdout()))
	if err != nil {
		return err
	}
	n.WithStatus(service.LogStatus).
		WithErrorFunc(func(_ context.Context, err error) { failure = err })

	if err := n.Probe(ctx); err != nil {
		return err
	}
	if err := n.OnTrigger(ctx, msg); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		n.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		n.OnShutdown(context.WithoutCancel(ctx))
		<-done
		return ctx.Err()
	case <-done:
	}
	// the error func runs before Wait returns
	return failure
}

// parsePayload decodes a JSON value. Anything else is used as a string.
func parsePayload(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

func doServe(cmd *cobra.Command, _ []string) error {
	ctx := log.ContextAttrs(cmd.Context(), slog.Group("vcgencmd",
		slog.String("cmd", "serve"),
		slog.Int("pid", os.Getpid()),
	))
	svc := config.Service
	if svc.NATS == nil && svc.Schedule == nil {
		return errors.New("serve needs service.nats or service.schedule to be configured")
	}

	shutdownTracing, err := tracing.Setup(ctx, config.Tracing, version())
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer tracing.Shutdown(ctx, shutdownTracing)

	var (
		conn   *nats.Conn
		closed = make(chan struct{})
		sink   node.Emitter
		status = service.LogStatus
	)
	if svc.NATS != nil {
		conn, err = connect(ctx, *svc.NATS, closed)
		if err != nil {
			return err
		}
		defer conn.Close()
		natsSink, err := service.NewNATSSink(conn, svc.NATS.Output)
		if err != nil {
			return err
		}
		sink = natsSink
		if svc.NATS.Status != "" {
			status = service.NATSStatus(conn, svc.NATS.Status)
		}
	} else {
		sink = service.NewWriteSink(cmd.OutOrStdout())
	}

	n, err := node.New(config.Node.Params(), sink)
	if err != nil {
		return err
	}
	n.WithStatus(status)

	supervisor := service.NewSupervisor(n)
	if svc.Schedule != nil {
		supervisor, err = supervisor.WithSchedule(ctx, svc.Schedule)
		if err != nil {
			return err
		}
	}
	if conn != nil {
		supervisor, err = supervisor.WithNATS(conn, svc.NATS.Trigger)
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return supervisor.Do(gctx)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-closed:
			return errors.New("nats connection closed")
		}
	})
	return g.Wait()
}

func connect(ctx context.Context, cfg model.NATS, closed chan<- struct{}) (*nats.Conn, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.WarnContext(ctx, "nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.InfoContext(ctx, "nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			slog.DebugContext(ctx, "nats connection closed")
			close(closed)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats %s: %w", cfg.URL, err)
	}
	slog.DebugContext(ctx, "connected to nats", "url", conn.ConnectedUrl())
	return conn, nil
}

func doCommands(cmd *cobra.Command, _ []string) error {
	return printCommands(cmd.OutOrStdout())
}

func printCommands(out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "COMMAND\tPARAMETER")
	for _, c := range vcgencmd.Commands() {
		p := c.ParamName()
		if p == "" {
			p = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\n", c, p)
	}
	return w.Flush()
}
