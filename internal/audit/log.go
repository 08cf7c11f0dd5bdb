package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"dinehub.org/internal/auth"
	"dinehub.org/internal/ids"
	"dinehub.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Entry is one audit record.
type Entry struct {
	ID        string         `json:"id"`
	Time      time.Time      `json:"ts"`
	Event     string         `json:"event"`
	RequestID string         `json:"request_id,omitempty"`
	ActorID   string         `json:"actor_id,omitempty"`
	TenantID  string         `json:"tenant_id,omitempty"`
	Fields    map[string]any `json:"fields"`
}

// Sink receives audit entries.
type Sink interface {
	Write(ctx context.Context, e Entry) error
}

// Recorder fans audit events out to its sinks. It implements auth.AuditLogger.
type Recorder struct {
	sinks []Sink
	now   func() time.Time
	log   zerolog.Logger
}

var _ auth.AuditLogger = (*Recorder)(nil)

// Option configures a Recorder.
type Option func(*Recorder)

// WithSink adds a destination.
func WithSink(s Sink) Option {
	return func(r *Recorder) {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder builds a Recorder. Without sinks it writes to the process logger.
func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{now: time.Now, log: obs.Logger()}
	for _, opt := range opts {
		opt(r)
	}
	if len(r.sinks) == 0 {
		r.sinks = []Sink{NewLogSink(r.log)}
	}
	return r
}

// LogEvent records an event enriched with request and caller context.
// Every sink is attempted; their failures are joined.
func (r *Recorder) LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	e := Entry{
		ID:        ids.New(),
		Time:      r.now().UTC(),
		Event:     event,
		RequestID: requestIDFromContext(ctx),
		Fields:    make(map[string]any, len(fields)),
	}
	if claims, ok := auth.ClaimsFromContext(ctx); ok {
		e.ActorID = claims.Subject
		e.TenantID = claims.TenantID
	}
	for k, v := range fields {
		e.Fields[k] = v
	}
	if e.TenantID == "" {
		if t, ok := fields["tenant_id"].(string); ok {
			e.TenantID = t
		}
	}

	var errs []error
	for _, s := range r.sinks {
		if err := s.Write(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		r.log.Error().Err(err).Str("event", event).Msg("audit sink failed")
		return err
	}
	return nil
}

// LogSink writes entries as structured log lines.
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink returns a sink writing to l.
func NewLogSink(l zerolog.Logger) *LogSink {
	return &LogSink{log: l}
}

// Write implements Sink.
func (s *LogSink) Write(_ context.Context, e Entry) error {
	evt := s.log.Info().
		Str("type", "audit").
		Str("audit_id", e.ID).
		Str("event", e.Event).
		Time("occurred_at", e.Time)
	if e.RequestID != "" {
		evt = evt.Str("request_id", e.RequestID)
	}
	if e.ActorID != "" {
		evt = evt.Str("actor_id", e.ActorID)
	}
	if e.TenantID != "" {
		evt = evt.Str("tenant_id", e.TenantID)
	}
	evt.Interface("fields", e.Fields).Msg("audit")
	return nil
}
