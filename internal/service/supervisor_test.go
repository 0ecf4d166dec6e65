package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/CZERTAINLY/vcgencmd-node/internal/model"
	"github.com/CZERTAINLY/vcgencmd-node/internal/node"
)

type fakeNode struct {
	mx       sync.Mutex
	probeErr error
	probed   int
	shutdown int
	waited   int
	triggers []node.Message
}

func (n *fakeNode) Probe(context.Context) error {
	n.mx.Lock()
	defer n.mx.Unlock()
	n.probed++
	return n.probeErr
}

func (n *fakeNode) OnTrigger(_ context.Context, msg node.Message) error {
	n.mx.Lock()
	defer n.mx.Unlock()
	n.triggers = append(n.triggers, msg)
	return nil
}

func (n *fakeNode) OnShutdown(context.Context) {
	n.mx.Lock()
	defer n.mx.Unlock()
	n.shutdown++
}

func (n *fakeNode) Wait() {
	n.mx.Lock()
	defer n.mx.Unlock()
	n.waited++
}

func (n *fakeNode) count() int {
	n.mx.Lock()
	defer n.mx.Unlock()
	return len(n.triggers)
}

func (n *fakeNode) payloads() []any {
	n.mx.Lock()
	defer n.mx.Unlock()
	ret := make([]any, len(n.triggers))
	for i, m := range n.triggers {
		ret[i] = m.Payload()
	}
	return ret
}

func runSupervisor(t *testing.T, s *Supervisor) (cancel func()) {
	t.Helper()
	ctx, cancelCtx := context.WithCancel(t.Context())
	var wg sync.WaitGroup
	wg.Go(func() {
		err := s.Do(ctx)
		require.NoError(t, err)
	})
	return func() {
		cancelCtx()
		wg.Wait()
	}
}

func TestSupervisorTrigger(t *testing.T) {
	t.Parallel()
	fake := &fakeNode{}
	s := NewSupervisor(fake)
	stop := runSupervisor(t, s)

	for i := range 3 {
		msg, err := node.NewMessage(float64(i))
		require.NoError(t, err)
		require.NoError(t, s.Trigger(t.Context(), msg))
	}
	require.Eventually(t, func() bool { return fake.count() == 3 }, time.Second, 5*time.Millisecond)
	stop()

	require.Equal(t, []any{float64(0), float64(1), float64(2)}, fake.payloads())
	require.Equal(t, 1, fake.probed)
	require.Equal(t, 1, fake.shutdown)
	require.Equal(t, 1, fake.waited)
}

func TestSupervisorProbeFailure(t *testing.T) {
	t.Parallel()
	fake := &fakeNode{probeErr: node.ErrUnsupportedPlatform}
	s := NewSupervisor(fake)
	stop := runSupervisor(t, s)

	msg, err := node.NewMessage("")
	require.NoError(t, err)
	require.NoError(t, s.Trigger(t.Context(), msg))
	require.Eventually(t, func() bool { return fake.count() == 1 }, time.Second, 5*time.Millisecond)
	stop()
	require.Equal(t, 1, fake.shutdown)
}

func TestSupervisorSchedule(t *testing.T) {
	t.Parallel()
	fake := &fakeNode{}
	s, err := NewSupervisor(fake).WithSchedule(t.Context(), &model.Schedule{
		Duration: "PT0.02S",
		Payload:  "on",
	})
	require.NoError(t, err)
	stop := runSupervisor(t, s)

	require.Eventually(t, func() bool { return fake.count() >= 2 }, 2*time.Second, 10*time.Millisecond)
	stop()

	for _, p := range fake.payloads() {
		require.Equal(t, "on", p)
	}
	for _, m := range fake.triggers {
		require.NotEmpty(t, m.ID())
	}
}

func TestSupervisorNATS(t *testing.T) {
	t.Parallel()
	fake := &fakeNode{}
	s := NewSupervisor(fake)
	stop := runSupervisor(t, s)

	s.msgs <- &nats.Msg{Subject: "vcgencmd.trigger", Data: []byte(`{"_msgid":"abc","payload":"off"}`)}
	s.msgs <- &nats.Msg{Subject: "vcgencmd.trigger", Data: []byte(`on`)}
	s.msgs <- &nats.Msg{Subject: "vcgencmd.trigger", Data: []byte(`true`)}
	require.Eventually(t, func() bool { return fake.count() == 3 }, time.Second, 5*time.Millisecond)
	stop()

	require.Equal(t, []any{"off", "on", true}, fake.payloads())
	require.Equal(t, "abc", fake.triggers[0].ID())
	require.NotEmpty(t, fake.triggers[1].ID())
}

func TestFromNATS(t *testing.T) {
	t.Parallel()

	var testCases = []struct {
		scenario string
		given    string
		then     any
	}{
		{"object", `{"_msgid":"abc","payload":"off"}`, "off"},
		{"bool", `true`, true},
		{"number", `0`, float64(0)},
		{"quoted", `"on"`, "on"},
		{"text", `on`, "on"},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			msg, err := fromNATS(&nats.Msg{Subject: "vcgencmd.trigger", Data: []byte(tc.given)})
			require.NoError(t, err)
			require.Equal(t, tc.then, msg.Payload())
			require.NotEmpty(t, msg.ID())
		})
	}

	_, err := fromNATS(nil)
	require.Error(t, err)
}

func TestNewScheduler(t *testing.T) {
	t.Parallel()
	noop := func() {}

	_, err := newScheduler(t.Context(), nil, noop)
	require.Error(t, err)

	_, err = newScheduler(t.Context(), &model.Schedule{}, noop)
	require.ErrorIs(t, err, model.ErrEmptySchedule)

	_, err = newScheduler(t.Context(), &model.Schedule{Cron: "@hourly", Duration: "PT1H"}, noop)
	require.ErrorIs(t, err, model.ErrScheduleFields)

	_, err = newScheduler(t.Context(), &model.Schedule{Duration: "30S"}, noop)
	require.ErrorIs(t, err, model.ErrISOFormat)

	s, err := newScheduler(t.Context(), &model.Schedule{Cron: "*/5 * * * *"}, noop)
	require.NoError(t, err)
	require.Len(t, s.Jobs(), 1)
	require.NoError(t, s.Shutdown())
}
