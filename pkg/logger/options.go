package logger

import "fmt"

// Option 配置选项函数
type Option func(*Config)

// WithLevel 设置日志级别
func WithLevel(level Level) Option {
	return func(c *Config) { c.Level = level }
}

// WithFormat 设置日志格式
func WithFormat(format Format) Option {
	return func(c *Config) { c.Format = format }
}

// WithConsoleOutput 启用控制台输出
func WithConsoleOutput() Option {
	return func(c *Config) { c.Console = true }
}

// WithFileOutput 输出到文件（不轮转）
func WithFileOutput(filename string) Option {
	return func(c *Config) { c.File = filename }
}

// WithRotateOutput 输出到 lumberjack 轮转文件
func WithRotateOutput(config *RotateConfig) Option {
	return func(c *Config) { c.Rotate = config }
}

// WithCaller 设置是否记录调用位置
func WithCaller(enable bool) Option {
	return func(c *Config) { c.EnableCaller = enable }
}

// WithHook 添加 Hook
func WithHook(hook Hook) Option {
	return func(c *Config) { c.Hooks = append(c.Hooks, hook) }
}

// Settings 配置文件中的 log 段
//
//	log:
//	  level: info
//	  format: console
//	  file: /var/log/qichat.log   # 非空时按大小轮转
type Settings struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Console    bool   `mapstructure:"console"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	Caller     bool   `mapstructure:"caller"`

	// 采样，Initial 为 0 时不采样
	SampleInitial    int `mapstructure:"sample_initial"`
	SampleThereafter int `mapstructure:"sample_thereafter"`
}

// Config 转换为 Logger 配置
func (s Settings) Config() (*Config, error) {
	level, err := ParseLevel(s.Level)
	if err != nil {
		return nil, err
	}
	format := Format(s.Format)
	if format == "" {
		format = JSONFormat
	}
	if !format.IsValid() {
		return nil, fmt.Errorf("invalid log format: %q", s.Format)
	}

	cfg := &Config{
		Level:            level,
		Format:           format,
		Console:          s.Console,
		EnableCaller:     s.Caller,
		EnableStacktrace: true,
	}
	if s.File != "" {
		cfg.Rotate = &RotateConfig{
			Filename:   s.File,
			MaxSize:    s.MaxSize,
			MaxAge:     s.MaxAge,
			MaxBackups: s.MaxBackups,
			Compress:   s.Compress,
		}
	}
	if s.SampleInitial > 0 {
		cfg.Sampling = &SamplingConfig{Initial: s.SampleInitial, Thereafter: s.SampleThereafter}
	}
	return cfg, nil
}
