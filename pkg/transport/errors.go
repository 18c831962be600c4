package transport

import "github.com/tokmz/qichat/pkg/errors"

// 预定义错误
var (
	ErrInvalidConfig = errors.New(6001, 500, "transport invalid config", nil)
	ErrConnection    = errors.New(6002, 503, "transport connection failed", nil)
	ErrClosed        = errors.New(6003, 503, "transport closed", nil)
	ErrCodec         = errors.New(6004, 500, "transport codec failed", nil)
	ErrOperation     = errors.New(6005, 503, "transport operation failed", nil)
)
