package entitystore

import (
	"context"
	"errors"
	"iter"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/jcmexdev/ecommerce-orders/internal/pkg/entitystore"

type instrumented struct {
	next    Store
	timeout time.Duration
	tracer  trace.Tracer
}

// Instrument wraps s so that every call runs under its own timeout and span.
// A zero timeout leaves the caller's deadline alone.
func Instrument(s Store, timeout time.Duration) Store {
	return &instrumented{
		next:    s,
		timeout: timeout,
		tracer:  otel.Tracer(tracerName),
	}
}

func (i *instrumented) start(ctx context.Context, op, table string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := i.tracer.Start(ctx, "entitystore."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(attrs, attribute.String("entitystore.table", table))...),
	)
	cancel := context.CancelFunc(func() {})
	if i.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
	}
	return ctx, func(err error) {
		// Not-found and conflict are outcomes the caller handles, not faults.
		if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrConflict) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		cancel()
		span.End()
	}
}

func (i *instrumented) Get(ctx context.Context, table, partitionKey, rowKey string) (e Entity, err error) {
	ctx, end := i.start(ctx, "get", table, attribute.String("entitystore.row_key", rowKey))
	defer func() { end(err) }()
	return i.next.Get(ctx, table, partitionKey, rowKey)
}

func (i *instrumented) Put(ctx context.Context, table string, e Entity, expected ETag) (tag ETag, err error) {
	ctx, end := i.start(ctx, "put", table,
		attribute.String("entitystore.row_key", e.RowKey),
		attribute.Bool("entitystore.create_only", expected == IfAbsent),
	)
	defer func() { end(err) }()
	return i.next.Put(ctx, table, e, expected)
}

func (i *instrumented) Delete(ctx context.Context, table, partitionKey, rowKey string) (err error) {
	ctx, end := i.start(ctx, "delete", table, attribute.String("entitystore.row_key", rowKey))
	defer func() { end(err) }()
	return i.next.Delete(ctx, table, partitionKey, rowKey)
}

// Scan applies the timeout to the whole iteration.
func (i *instrumented) Scan(ctx context.Context, table string, match Predicate) iter.Seq2[Entity, error] {
	return func(yield func(Entity, error) bool) {
		ctx, end := i.start(ctx, "scan", table)
		var failed error
		defer func() { end(failed) }()

		for e, err := range i.next.Scan(ctx, table, match) {
			if err != nil {
				failed = err
			}
			if !yield(e, err) {
				return
			}
		}
	}
}
