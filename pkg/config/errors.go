package config

import "github.com/tokmz/qichat/pkg/errors"

// 配置包专用错误定义
var (
	// ErrConfigNotFound 配置文件未找到
	ErrConfigNotFound = errors.New(3001, 500, "配置文件未找到", nil)
	// ErrConfigReadFailed 配置读取失败
	ErrConfigReadFailed = errors.New(3002, 500, "配置读取失败", nil)
	// ErrConfigDecode 配置反序列化失败
	ErrConfigDecode = errors.New(3003, 500, "配置解析失败", nil)
)
