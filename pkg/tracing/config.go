package tracing

import (
	"fmt"
	"io"
	"time"

	"github.com/tokmz/qichat/pkg/errors"
)

// ExporterType 导出器类型
type ExporterType string

const (
	ExporterOTLP     ExporterType = "otlp"      // OTLP over HTTP
	ExporterOTLPGRPC ExporterType = "otlp_grpc" // OTLP over gRPC
	ExporterStdout   ExporterType = "stdout"
	ExporterNoop     ExporterType = "noop"
)

// ErrInvalidConfig 配置错误
var ErrInvalidConfig = errors.New(7001, 500, "tracing invalid config", nil)

// Config 链路追踪配置
type Config struct {
	// 服务名称（必填）
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
	Environment    string `mapstructure:"environment"` // dev/staging/prod

	// 导出器
	ExporterType     ExporterType      `mapstructure:"exporter_type"`
	ExporterEndpoint string            `mapstructure:"exporter_endpoint"`
	ExporterHeaders  map[string]string `mapstructure:"exporter_headers"` // 用于认证
	Insecure         bool              `mapstructure:"insecure"`         // 默认使用 TLS

	// 采样（always/never/ratio/parent_based）
	SamplingType string  `mapstructure:"sampling_type"`
	SamplingRate float64 `mapstructure:"sampling_rate"`

	Enabled bool `mapstructure:"enabled"`

	// 资源属性（自定义标签）
	ResourceAttributes map[string]string `mapstructure:"resource_attributes"`

	// 批处理配置
	BatchTimeout       time.Duration `mapstructure:"batch_timeout"`
	MaxExportBatchSize int           `mapstructure:"max_export_batch_size"`
	MaxQueueSize       int           `mapstructure:"max_queue_size"`

	// SetGlobal 是否注册为全局 TracerProvider 和 Propagator
	SetGlobal bool `mapstructure:"set_global"`

	// Writer stdout 导出器的输出，默认标准输出
	Writer io.Writer `mapstructure:"-"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		ServiceName:        "qichat",
		ServiceVersion:     "1.0.0",
		Environment:        "development",
		ExporterType:       ExporterStdout,
		SamplingType:       "parent_based",
		SamplingRate:       1.0,
		Enabled:            true,
		ResourceAttributes: make(map[string]string),
		BatchTimeout:       5 * time.Second,
		MaxExportBatchSize: 512,
		MaxQueueSize:       2048,
		SetGlobal:          true,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return ErrInvalidConfig.WithError(fmt.Errorf("service name is required"))
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return ErrInvalidConfig.WithError(fmt.Errorf("sampling rate must be between 0.0 and 1.0, got %v", c.SamplingRate))
	}

	switch c.ExporterType {
	case ExporterOTLP, ExporterOTLPGRPC, ExporterStdout, ExporterNoop:
	default:
		return ErrInvalidConfig.WithError(fmt.Errorf("invalid exporter type: %q", c.ExporterType))
	}
	return nil
}
