package transport

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tokmz/qichat/pkg/chat"
)

const transportTracerName = "qichat.transport"

// tracedTransport 链路追踪传输装饰器
type tracedTransport struct {
	chat.Transport
	driver DriverType
	tracer trace.Tracer
}

// NewTracing 创建带链路追踪的传输，tp 为 nil 时使用全局 TracerProvider
func NewTracing(t chat.Transport, driver DriverType, tp trace.TracerProvider) chat.Transport {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &tracedTransport{
		Transport: t,
		driver:    driver,
		tracer:    tp.Tracer(transportTracerName),
	}
}

// wrapOperation 包装操作，自动处理 Span
func (t *tracedTransport) wrapOperation(
	ctx context.Context,
	operation string,
	group chat.RoomID,
	kind trace.SpanKind,
	fn func(ctx context.Context) error,
) error {
	ctx, span := t.tracer.Start(ctx, operation, trace.WithSpanKind(kind))
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.system", string(t.driver)),
		attribute.String("messaging.destination.name", string(group)),
		attribute.String("transport.operation", operation),
	)

	start := time.Now()
	err := fn(ctx)
	span.SetAttributes(attribute.Int64("transport.duration_ms", time.Since(start).Milliseconds()))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (t *tracedTransport) GroupAdd(ctx context.Context, group chat.RoomID, connID string) error {
	return t.wrapOperation(ctx, "transport.GroupAdd", group, trace.SpanKindClient, func(ctx context.Context) error {
		return t.Transport.GroupAdd(ctx, group, connID)
	})
}

func (t *tracedTransport) GroupDiscard(ctx context.Context, group chat.RoomID, connID string) error {
	return t.wrapOperation(ctx, "transport.GroupDiscard", group, trace.SpanKindClient, func(ctx context.Context) error {
		return t.Transport.GroupDiscard(ctx, group, connID)
	})
}

func (t *tracedTransport) GroupSend(ctx context.Context, group chat.RoomID, env chat.Envelope) error {
	return t.wrapOperation(ctx, "transport.GroupSend", group, trace.SpanKindProducer, func(ctx context.Context) error {
		return t.Transport.GroupSend(ctx, group, env)
	})
}
