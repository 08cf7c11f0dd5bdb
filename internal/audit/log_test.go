package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dinehub.org/internal/auth"
)

func TestLogEvent(t *testing.T) {
	var buf bytes.Buffer
	at := time.Date(2024, 2, 2, 8, 0, 0, 0, time.UTC)
	rec := NewRecorder(WithSink(NewLogSink(zerolog.New(&buf))), WithClock(func() time.Time { return at }))

	ctx := WithRequestID(context.Background(), "req-123")
	ctx = auth.ContextWithClaims(ctx, &auth.Claims{TenantID: "t1", RegisteredClaims: jwt.RegisteredClaims{Subject: "user-42"}})

	require.NoError(t, rec.LogEvent(ctx, "role.assigned", map[string]any{"role_id": "r1"}))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "audit", entry["type"])
	assert.Equal(t, "role.assigned", entry["event"])
	assert.Equal(t, "req-123", entry["request_id"])
	assert.Equal(t, "user-42", entry["actor_id"])
	assert.Equal(t, "t1", entry["tenant_id"])
	fields, ok := entry["fields"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "r1", fields["role_id"])
}

func TestLogEventRequiresName(t *testing.T) {
	rec := NewRecorder(WithSink(NewLogSink(zerolog.Nop())))
	assert.Error(t, rec.LogEvent(context.Background(), "  ", nil))
}

func TestLogEventTenantFromFields(t *testing.T) {
	sink := &captureSink{}
	rec := NewRecorder(WithSink(sink))
	require.NoError(t, rec.LogEvent(context.Background(), "token.issued", map[string]any{"tenant_id": "t9"}))
	require.Len(t, sink.entries, 1)
	assert.Equal(t, "t9", sink.entries[0].TenantID)
}

type captureSink struct {
	entries []Entry
	err     error
}

func (c *captureSink) Write(_ context.Context, e Entry) error {
	c.entries = append(c.entries, e)
	return c.err
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func TestKafkaSinkPublishesKeyedJSON(t *testing.T) {
	w := &fakeWriter{}
	rec := NewRecorder(WithSink(NewKafkaSink(w)))

	require.NoError(t, rec.LogEvent(context.Background(), "token.revoked", map[string]any{"tenant_id": "t1", "count": 2}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "t1", string(w.msgs[0].Key))
	assert.Equal(t, "event", w.msgs[0].Headers[0].Key)
	assert.Equal(t, "token.revoked", string(w.msgs[0].Headers[0].Value))

	var e Entry
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &e))
	assert.Equal(t, "token.revoked", e.Event)
	assert.EqualValues(t, 2, e.Fields["count"])
}

func TestSinkFailuresAreJoinedButAllSinksRun(t *testing.T) {
	failing := &fakeWriter{err: errors.New("broker down")}
	capture := &captureSink{}
	rec := NewRecorder(WithSink(NewKafkaSink(failing)), WithSink(capture))

	err := rec.LogEvent(context.Background(), "token.blacklisted", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Len(t, capture.entries, 1)
}
