package database

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/utafrali/storefront-cart/pkg/database"

// QueryTracer starts client spans around statements and warns about queries
// slower than SlowThreshold. A zero threshold or nil Logger disables the
// warning.
type QueryTracer struct {
	System        string
	SlowThreshold time.Duration
	Logger        *slog.Logger
}

// Trace starts a span for operation. Call the returned func with the
// operation's error when it completes:
//
//	ctx, end := t.Trace(ctx, "SaveSnapshot", upsertSQL)
//	defer func() { end(err) }()
func (t QueryTracer) Trace(ctx context.Context, operation, statement string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "db."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", t.System),
			attribute.String("db.operation", operation),
			attribute.String("db.statement", statement),
		),
	)

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		if t.SlowThreshold <= 0 || t.Logger == nil {
			return
		}
		if elapsed := time.Since(start); elapsed >= t.SlowThreshold {
			t.Logger.WarnContext(ctx, "slow query detected",
				slog.String("operation", operation),
				slog.String("statement", statement),
				slog.Duration("duration", elapsed),
			)
		}
	}
}
