package chat

import (
	stderrors "errors"

	"github.com/tokmz/qichat/pkg/errors"
)

// 错误定义
var (
	// 请求相关错误（在任何注册表变更之前返回）
	ErrRoomResolution = errors.New(4001, 400, "chat: invalid room name", nil)
	ErrSessionClosed  = errors.New(4002, 410, "chat: session closed", nil)
	ErrEmptyRooms     = errors.New(4003, 400, "chat: at least one room is required", nil)
	ErrTooManyRooms   = errors.New(4004, 400, "chat: too many rooms in one join", nil)
	ErrConnInUse      = errors.New(4005, 409, "chat: connection already has a session", nil)

	// 传输相关错误
	ErrTransportUnavailable = errors.New(5001, 503, "chat: transport unavailable", nil)

	// 单个订阅者的投递错误，只报告给所属会话，不会返回给发布者
	ErrSinkFull   = errors.New(5002, 500, "chat: delivery sink full", nil)
	ErrSinkClosed = errors.New(5003, 500, "chat: delivery sink closed", nil)

	// 配置相关错误
	ErrInvalidConfig = errors.New(5004, 500, "chat: invalid config", nil)
)

// TransportError 将传输层错误统一包装为 ErrTransportUnavailable
func TransportError(err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, ErrTransportUnavailable) {
		return err
	}
	return ErrTransportUnavailable.WithError(err)
}
