package requestctx

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type contextKey string

const (
	loggerContextKey contextKey = "github.com/salles-management/api/internal/platform/requestctx/logger"
	traceContextKey  contextKey = "github.com/salles-management/api/internal/platform/requestctx/trace"
	actorContextKey  contextKey = "github.com/salles-management/api/internal/platform/requestctx/actor"
)

var noopLogger = zap.NewNop()

// TraceInfo captures trace metadata propagated through request context.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// ActorSlot is filled in by the authentication middleware so that outer middlewares, which only
// see the context they created, can report who performed the request once it completes.
type ActorSlot struct {
	mu   sync.Mutex
	id   string
	role string
}

// Set records the authenticated actor.
func (s *ActorSlot) Set(id, role string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.id, s.role = id, role
	s.mu.Unlock()
}

// Get returns the recorded actor, if any.
func (s *ActorSlot) Get() (id, role string) {
	if s == nil {
		return "", ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.role
}

// WithLogger stores the logger in context for downstream consumers.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// Logger retrieves the zap logger from context or returns a no-op logger.
func Logger(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return noopLogger
	}
	if logger, ok := ctx.Value(loggerContextKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger exposes the shared noop logger instance used across the package.
func NoopLogger() *zap.Logger { return noopLogger }

// WithTrace stores the trace metadata on the context for downstream usage.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceContextKey, info)
}

// Trace retrieves the trace metadata from context when available.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceContextKey).(TraceInfo)
	if !ok {
		return TraceInfo{}, false
	}
	return info, true
}

// TraceID extracts the trace identifier from context when present.
func TraceID(ctx context.Context) string {
	info, ok := Trace(ctx)
	if !ok {
		return ""
	}
	return info.TraceID
}

// WithActorSlot attaches an empty actor slot to the context and returns both.
func WithActorSlot(ctx context.Context) (context.Context, *ActorSlot) {
	if ctx == nil {
		ctx = context.Background()
	}
	slot := &ActorSlot{}
	return context.WithValue(ctx, actorContextKey, slot), slot
}

// RecordActor stores the actor in the slot attached by an outer middleware. It is a no-op when no
// slot is present.
func RecordActor(ctx context.Context, id, role string) {
	if ctx == nil {
		return
	}
	if slot, ok := ctx.Value(actorContextKey).(*ActorSlot); ok {
		slot.Set(id, role)
	}
}
