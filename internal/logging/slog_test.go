package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T, level slog.Level) (*SlogLogger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level})
	return NewSlogLogger(slog.New(h)), &buf
}

func TestSlogLogger_Levels(t *testing.T) {
	log, buf := newTestLogger(t, slog.LevelDebug)
	ctx := context.Background()

	log.Debug(ctx, "dbg", "a", 1)
	log.Info(ctx, "inf", "b", 2)
	log.Warn(ctx, "wrn", "c", 3)
	log.Error(ctx, "err", "d", 4)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)

	tests := []struct {
		level, msg, attr string
	}{
		{"DEBUG", "dbg", "a=1"},
		{"INFO", "inf", "b=2"},
		{"WARN", "wrn", "c=3"},
		{"ERROR", "err", "d=4"},
	}
	for i, tc := range tests {
		assert.Contains(t, lines[i], "level="+tc.level)
		assert.Contains(t, lines[i], "msg="+tc.msg)
		assert.Contains(t, lines[i], tc.attr)
	}
}

func TestSlogLogger_BelowLevelIsDropped(t *testing.T) {
	log, buf := newTestLogger(t, slog.LevelWarn)
	ctx := ContextWith(context.Background(), "request_id", "r1")

	log.Debug(ctx, "dbg")
	log.Info(ctx, "inf")
	assert.Empty(t, buf.String())

	log.Warn(ctx, "wrn")
	assert.Contains(t, buf.String(), "request_id=r1")
}

func TestSlogLogger_With(t *testing.T) {
	log, buf := newTestLogger(t, slog.LevelDebug)

	log.With("module", "facade", "type", "Contact").Info(context.Background(), "hello", "k", "v")

	out := buf.String()
	for _, s := range []string{"level=INFO", "msg=hello", "module=facade", "type=Contact", "k=v"} {
		assert.Contains(t, out, s)
	}
}

func TestContextWith(t *testing.T) {
	log, buf := newTestLogger(t, slog.LevelDebug)

	ctx := ContextWith(context.Background(), "request_id", "r1")
	ctx = ContextWith(ctx, "user_id", "u1")
	ctx = ContextWith(ctx)
	log.With("module", "sync").Info(ctx, "saved", "id", 7)

	out := strings.TrimSpace(buf.String())
	rest := out[strings.Index(out, "msg=saved"):]
	assert.Equal(t, "msg=saved module=sync request_id=r1 user_id=u1 id=7", rest)
}

func TestContextWith_DoesNotLeakToParent(t *testing.T) {
	log, buf := newTestLogger(t, slog.LevelDebug)

	parent := ContextWith(context.Background(), "request_id", "r1")
	_ = ContextWith(parent, "user_id", "u1")
	log.Info(parent, "p")

	assert.NotContains(t, buf.String(), "user_id")
}
