package log_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/CZERTAINLY/vcgencmd-node/internal/log"
	"github.com/stretchr/testify/require"
)

func TestContextAttrs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := log.New(&buf, false)

	ctx := log.ContextAttrs(context.Background(), slog.String("cmd", "run"))
	a := log.ContextAttrs(ctx, slog.String("msgid", "a"))
	b := log.ContextAttrs(ctx, slog.String("msgid", "b"))

	logger.InfoContext(a, "first")
	logger.DebugContext(b, "hidden")
	logger.WarnContext(b, "second")

	dec := json.NewDecoder(&buf)
	var rec map[string]any
	require.NoError(t, dec.Decode(&rec))
	require.Equal(t, "first", rec["msg"])
	require.Equal(t, "run", rec["cmd"])
	require.Equal(t, "a", rec["msgid"])

	rec = nil
	require.NoError(t, dec.Decode(&rec))
	require.Equal(t, "second", rec["msg"])
	require.Equal(t, "b", rec["msgid"])
	require.Equal(t, "WARN", rec["level"])
}

func TestOutput(t *testing.T) {
	t.Parallel()

	w, closeFn, err := log.Output(log.Discard)
	require.NoError(t, err)
	require.Equal(t, io.Discard, w)
	require.NoError(t, closeFn())

	w, closeFn, err = log.Output("")
	require.NoError(t, err)
	require.Equal(t, os.Stderr, w)
	require.NoError(t, closeFn())

	path := filepath.Join(t.TempDir(), "node.log")
	w, closeFn, err = log.Output(path)
	require.NoError(t, err)
	log.New(w, true).Debug("hello")
	require.NoError(t, closeFn())
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(b), `"msg":"hello"`)
}
