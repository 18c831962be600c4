package ws

import (
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/tokmz/qichat/pkg/logger"
	"github.com/tokmz/qichat/pkg/tracing"
)

// Handler 帧处理器
type Handler func(*Client, *InboundFrame) error

// NextFunc 中间件下一步函数
type NextFunc func() error

// MiddlewareFunc 帧中间件
type MiddlewareFunc func(*Client, *InboundFrame, NextFunc) error

// Router 按帧类型分发入站帧
type Router struct {
	mu         sync.RWMutex
	handlers   map[FrameType]Handler
	middleware []MiddlewareFunc
	compiled   map[FrameType]Handler
	frozen     bool
}

// NewRouter 创建路由器
func NewRouter() *Router {
	return &Router{
		handlers: make(map[FrameType]Handler),
	}
}

// Register 注册处理器
func (r *Router) Register(frameType FrameType, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRouterFrozen
	}
	if _, exists := r.handlers[frameType]; exists {
		return ErrHandlerExists
	}
	r.handlers[frameType] = handler
	return nil
}

// Use 添加中间件，按添加顺序由外向内执行
func (r *Router) Use(middleware ...MiddlewareFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRouterFrozen
	}
	r.middleware = append(r.middleware, middleware...)
	return nil
}

// Freeze 冻结路由器并预编译处理器链
func (r *Router) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return
	}
	r.frozen = true
	r.compiled = make(map[FrameType]Handler, len(r.handlers))
	for frameType, handler := range r.handlers {
		r.compiled[frameType] = chain(handler, r.middleware)
	}
}

// Route 分发帧，未知类型返回 ErrUnknownFrame
func (r *Router) Route(c *Client, frame *InboundFrame) error {
	r.mu.RLock()
	var (
		handler Handler
		exists  bool
	)
	if r.frozen {
		handler, exists = r.compiled[frame.Type]
	} else if handler, exists = r.handlers[frame.Type]; exists {
		handler = chain(handler, r.middleware)
	}
	r.mu.RUnlock()

	if !exists {
		return ErrUnknownFrame.WithMessage(fmt.Sprintf("ws: unknown frame type %q", frame.Type))
	}
	return handler(c, frame)
}

func chain(handler Handler, middleware []MiddlewareFunc) Handler {
	for i := len(middleware) - 1; i >= 0; i-- {
		mw, next := middleware[i], handler
		handler = func(c *Client, f *InboundFrame) error {
			return mw(c, f, func() error { return next(c, f) })
		}
	}
	return handler
}

// TracingMiddleware 为每个入站帧创建 span，子调用沿用客户端上下文中的 span
func TracingMiddleware() MiddlewareFunc {
	return func(c *Client, f *InboundFrame, next NextFunc) error {
		ctx, span := tracing.StartSpan(c.Context(), "ws."+string(f.Type))
		defer span.End()

		span.SetAttributes(
			attribute.String("ws.client_id", c.ID()),
			attribute.String("ws.frame", string(f.Type)),
		)
		if f.Room != "" {
			span.SetAttributes(attribute.String("chat.room", f.Room))
		}

		c.withFrameContext(ctx)
		defer c.withFrameContext(nil)

		err := next()
		tracing.RecordError(span, err)
		return err
	}
}

// LoggingMiddleware 记录每个入站帧的处理结果
func LoggingMiddleware(log logger.Logger) MiddlewareFunc {
	return func(c *Client, f *InboundFrame, next NextFunc) error {
		start := time.Now()
		err := next()

		fields := []zap.Field{
			zap.String("client_id", c.ID()),
			zap.String("frame", string(f.Type)),
			zap.Duration("latency", time.Since(start)),
		}
		if err != nil {
			log.Warn("ws frame failed", append(fields, zap.Error(err))...)
			return err
		}
		log.Debug("ws frame handled", fields...)
		return nil
	}
}

// RecoverMiddleware 捕获处理器 panic 并转换为错误
func RecoverMiddleware(log logger.Logger) MiddlewareFunc {
	return func(c *Client, f *InboundFrame, next NextFunc) (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("ws handler panic",
					zap.String("client_id", c.ID()),
					zap.String("frame", string(f.Type)),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
				err = ErrHandlerPanic
			}
		}()
		return next()
	}
}
