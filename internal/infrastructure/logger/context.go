package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

// Context keys. The identifiers are stored as strings so they can be read
// back without importing uuid.
const (
	LoggerKey         contextKey = "logger"
	RequestIDKey      contextKey = "request_id"
	OrganizationIDKey contextKey = "organization_id"
	UserIDKey         contextKey = "user_id"
)

// WithContext stores log in ctx.
func WithContext(ctx context.Context, log *zap.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, log)
}

// FromContext returns the logger stored by WithContext, or a nop logger.
func FromContext(ctx context.Context) *zap.Logger {
	if log, ok := ctx.Value(LoggerKey).(*zap.Logger); ok && log != nil {
		return log
	}
	return zap.NewNop()
}

// tag records value under key and stores a child of log carrying it as a field.
func tag(ctx context.Context, log *zap.Logger, key contextKey, value string) (context.Context, *zap.Logger) {
	child := log.With(zap.String(string(key), value))
	ctx = context.WithValue(ctx, key, value)
	return WithContext(ctx, child), child
}

func WithRequestID(ctx context.Context, log *zap.Logger, id string) (context.Context, *zap.Logger) {
	return tag(ctx, log, RequestIDKey, id)
}

func WithOrganizationID(ctx context.Context, log *zap.Logger, id string) (context.Context, *zap.Logger) {
	return tag(ctx, log, OrganizationIDKey, id)
}

func WithUserID(ctx context.Context, log *zap.Logger, id string) (context.Context, *zap.Logger) {
	return tag(ctx, log, UserIDKey, id)
}

func lookup(ctx context.Context, key contextKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}

func GetRequestID(ctx context.Context) string      { return lookup(ctx, RequestIDKey) }
func GetOrganizationID(ctx context.Context) string { return lookup(ctx, OrganizationIDKey) }
func GetUserID(ctx context.Context) string         { return lookup(ctx, UserIDKey) }

// WithTraceContext adds trace_id and span_id when ctx carries a valid span.
func WithTraceContext(ctx context.Context, log *zap.Logger) *zap.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return log
	}
	return log.With(
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}

// L is the request-scoped logger: the one stored in ctx, which already carries
// request, organization and user fields, plus trace correlation.
//
//	logger.L(ctx).Warn("invoice already paid", zap.String("invoice_number", n))
func L(ctx context.Context) *zap.Logger {
	return WithTraceContext(ctx, FromContext(ctx))
}
