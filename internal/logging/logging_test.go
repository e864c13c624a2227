package logging

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewParsesLevelAndFallsBack(t *testing.T) {
	l := New("relayer", Config{Level: "debug", Format: "text"})
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())

	l = New("relayer", Config{Level: "nonsense"})
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
	assert.Equal(t, "relayer", l.Service())
}

func TestTraceIDRoundTrip(t *testing.T) {
	ctx := WithTraceID(context.Background(), "abc")
	assert.Equal(t, "abc", TraceID(ctx))
	assert.Empty(t, TraceID(context.Background()))
	assert.NotEqual(t, NewTraceID(), NewTraceID())
}

func TestLogSecurityEvent(t *testing.T) {
	base, hook := test.NewNullLogger()
	l := Wrap("relayer", base)

	ctx := WithTraceID(context.Background(), "trace-1")
	l.LogSecurityEvent(ctx, "rate_limit_exceeded", map[string]interface{}{"ip": "10.0.0.1"})

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "rate_limit_exceeded", entry.Data["security_event"])
	assert.Equal(t, "trace-1", entry.Data["trace_id"])
	assert.Equal(t, "10.0.0.1", entry.Data["ip"])
	assert.Equal(t, "relayer", entry.Data["service"])
}

func TestLogRequestLevels(t *testing.T) {
	base, hook := test.NewNullLogger()
	l := Wrap("relayer", base)

	l.LogRequest(context.Background(), http.MethodGet, "/health", http.StatusOK, time.Millisecond)
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)

	l.LogRequest(context.Background(), http.MethodPost, "/api/relay/execute", http.StatusBadRequest, time.Millisecond)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	l.LogRequest(context.Background(), http.MethodPost, "/api/relay/execute", http.StatusServiceUnavailable, time.Millisecond)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}
