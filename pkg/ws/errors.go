package ws

import "github.com/tokmz/qichat/pkg/errors"

// 错误定义
var (
	// 连接相关错误
	ErrTooManyConnections = errors.New(4101, 503, "ws: too many connections", nil)
	ErrClientIDExists     = errors.New(4102, 409, "ws: client id already exists", nil)
	ErrConnectionClosed   = errors.New(4103, 410, "ws: connection closed", nil)
	ErrChannelFull        = errors.New(4104, 503, "ws: send channel full", nil)

	// 帧相关错误
	ErrInvalidFrame  = errors.New(4105, 400, "ws: invalid frame", nil)
	ErrUnknownFrame  = errors.New(4106, 400, "ws: unknown frame type", nil)
	ErrNotJoined     = errors.New(4107, 409, "ws: join rooms first", nil)
	ErrUserRequired  = errors.New(4108, 400, "ws: user is required", nil)
	ErrHandlerExists = errors.New(4109, 500, "ws: handler already exists", nil)
	ErrRouterFrozen  = errors.New(4110, 500, "ws: router is frozen", nil)
	ErrRoomRequired  = errors.New(4111, 400, "ws: room is required", nil)
	ErrHandlerPanic  = errors.New(4112, 500, "ws: internal handler error", nil)

	// 配置相关错误
	ErrInvalidConfig = errors.New(4199, 500, "ws: invalid config", nil)
)
