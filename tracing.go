package toolthread

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/skosovsky/toolthread"

// WithTracing returns a middleware that records one span per tool execution.
// A nil provider disables tracing.
func WithTracing(tp trace.TracerProvider) Middleware {
	return func(next Tool) Tool {
		if tp == nil {
			return next
		}
		return &tracingTool{toolBase: toolBase{next: next}, tracer: tp.Tracer(tracerName)}
	}
}

type tracingTool struct {
	toolBase
	tracer trace.Tracer
}

func (t *tracingTool) Execute(ctx context.Context, args []byte, yield func(Chunk) error) error {
	ctx, span := t.tracer.Start(ctx, "tool "+t.next.Name(),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("tool.name", t.next.Name()),
			attribute.Int("tool.args_bytes", len(args)),
		))
	defer span.End()

	var chunks int
	var size int64
	err := t.next.Execute(ctx, args, func(c Chunk) error {
		chunks++
		size += int64(len(c.Data))
		return yield(c)
	})
	span.SetAttributes(attribute.Int("tool.chunks", chunks), attribute.Int64("tool.output_bytes", size))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, failureText(t.next.Name(), err))
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}
