package chat

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/tokmz/qichat/pkg/chat"

// tracingService 带追踪的聊天服务
type tracingService struct {
	next   ChatService
	tracer trace.Tracer
}

// NewTracingService 为发布和加入添加追踪，tp 为 nil 时使用全局 TracerProvider
func NewTracingService(next ChatService, tp trace.TracerProvider) ChatService {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &tracingService{
		next:   next,
		tracer: tp.Tracer(tracerName),
	}
}

// SendChatMessage 实现 Publisher
func (t *tracingService) SendChatMessage(ctx context.Context, roomName, message, sender string) error {
	ctx, span := t.tracer.Start(ctx, "chat.SendChatMessage",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("chat.room", roomName),
			attribute.String("chat.sender", sender),
			attribute.Int("chat.message.size", len(message)),
		),
	)
	defer span.End()

	err := t.next.SendChatMessage(ctx, roomName, message, sender)
	record(span, err)
	return err
}

// JoinChatRooms 实现 Joiner
// span 只覆盖加入过程，不覆盖会话的生命周期
func (t *tracingService) JoinChatRooms(ctx context.Context, req JoinRequest) (*Session, error) {
	ctx, span := t.tracer.Start(ctx, "chat.JoinChatRooms",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.StringSlice("chat.rooms", req.Rooms),
			attribute.String("chat.user", req.User),
		),
	)
	defer span.End()

	sess, err := t.next.JoinChatRooms(ctx, req)
	if sess != nil {
		span.SetAttributes(attribute.String("chat.conn_id", sess.ConnID()))
	}
	record(span, err)
	return sess, err
}

func record(span trace.Span, err error) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
