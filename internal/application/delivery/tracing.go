package delivery

import (
	"context"

	"github.com/andresilva/courier/internal/domain/outbox"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracedProcessor decorates a MessageProcessor with tracing spans. The
// delivery logic itself stays free of instrumentation.
type TracedProcessor struct {
	next   MessageProcessor
	tracer trace.Tracer
}

// NewTracedProcessor wraps next with tracing.
func NewTracedProcessor(next MessageProcessor) *TracedProcessor {
	return &TracedProcessor{
		next:   next,
		tracer: otel.Tracer("courier/delivery"),
	}
}

func (t *TracedProcessor) Enqueue(ctx context.Context, msg Message) (*outbox.Response, error) {
	ctx, span := t.tracer.Start(ctx, "processor.Enqueue",
		trace.WithAttributes(attribute.String("message.name", msg.MessageName())))
	defer span.End()

	resp, err := t.next.Enqueue(ctx, msg)
	t.finish(span, err)
	return resp, err
}

func (t *TracedProcessor) EnqueueWithKey(ctx context.Context, msg Message, idempotencyKey string) (*outbox.Response, error) {
	ctx, span := t.tracer.Start(ctx, "processor.EnqueueWithKey",
		trace.WithAttributes(attribute.String("message.name", msg.MessageName())))
	defer span.End()

	resp, err := t.next.EnqueueWithKey(ctx, msg, idempotencyKey)
	t.finish(span, err)
	return resp, err
}

func (t *TracedProcessor) EnqueueNonIdempotent(ctx context.Context, msg Message) (*outbox.Response, error) {
	ctx, span := t.tracer.Start(ctx, "processor.EnqueueNonIdempotent",
		trace.WithAttributes(attribute.String("message.name", msg.MessageName())))
	defer span.End()

	resp, err := t.next.EnqueueNonIdempotent(ctx, msg)
	t.finish(span, err)
	return resp, err
}

func (t *TracedProcessor) GetMessage(ctx context.Context, outboxID int64) (*outbox.Response, error) {
	ctx, span := t.tracer.Start(ctx, "processor.GetMessage",
		trace.WithAttributes(attribute.Int64("outbox.id", outboxID)))
	defer span.End()

	resp, err := t.next.GetMessage(ctx, outboxID)
	t.finish(span, err)
	return resp, err
}

func (t *TracedProcessor) GetStatus(ctx context.Context, outboxID int64) (*outbox.MessageStatus, error) {
	ctx, span := t.tracer.Start(ctx, "processor.GetStatus",
		trace.WithAttributes(attribute.Int64("outbox.id", outboxID)))
	defer span.End()

	status, err := t.next.GetStatus(ctx, outboxID)
	t.finish(span, err)
	return status, err
}

func (t *TracedProcessor) UpdateStatus(ctx context.Context, outboxID int64, state outbox.State, jobID string, content []byte) error {
	ctx, span := t.tracer.Start(ctx, "processor.UpdateStatus",
		trace.WithAttributes(
			attribute.Int64("outbox.id", outboxID),
			attribute.String("outbox.state", string(state)),
		))
	defer span.End()

	err := t.next.UpdateStatus(ctx, outboxID, state, jobID, content)
	t.finish(span, err)
	return err
}

func (t *TracedProcessor) finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

var _ MessageProcessor = (*TracedProcessor)(nil)
