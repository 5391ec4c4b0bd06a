package database

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/LockTrip/b2b-integration/pkg/database"

// QueryTracer implements pgx.QueryTracer: one otel client span per query,
// plus a warning log for queries exceeding the slow threshold. A zero
// threshold disables slow query logging.
type QueryTracer struct {
	logger        *slog.Logger
	slowThreshold time.Duration
}

// NewQueryTracer creates a query tracer for pgx connections.
func NewQueryTracer(logger *slog.Logger, slowThreshold time.Duration) *QueryTracer {
	return &QueryTracer{
		logger:        logger,
		slowThreshold: slowThreshold,
	}
}

type queryTraceKey struct{}

type queryTrace struct {
	span  trace.Span
	sql   string
	start time.Time
}

// TraceQueryStart opens a client span for the query and stashes timing state
// on the context for TraceQueryEnd.
func (t *QueryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "db.query",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.statement", data.SQL),
		),
	)
	return context.WithValue(ctx, queryTraceKey{}, &queryTrace{
		span:  span,
		sql:   data.SQL,
		start: time.Now(),
	})
}

// TraceQueryEnd closes the span, recording the error if the query failed, and
// logs slow queries.
func (t *QueryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	qt, ok := ctx.Value(queryTraceKey{}).(*queryTrace)
	if !ok {
		return
	}

	if data.Err != nil {
		qt.span.RecordError(data.Err)
		qt.span.SetStatus(codes.Error, data.Err.Error())
	}
	qt.span.End()

	if t.slowThreshold <= 0 || t.logger == nil {
		return
	}
	if elapsed := time.Since(qt.start); elapsed >= t.slowThreshold {
		attrs := []any{
			slog.String("statement", qt.sql),
			slog.Duration("duration", elapsed),
		}
		if data.Err != nil {
			attrs = append(attrs, slog.String("error", data.Err.Error()))
		}
		t.logger.WarnContext(ctx, "slow query detected", attrs...)
	}
}
