package config

import "strings"

// Option 配置选项函数
type Option func(*Config)

// WithConfigFile 指定配置文件完整路径，优先于名称加搜索路径
func WithConfigFile(path string) Option {
	return func(c *Config) { c.configFile = path }
}

// WithConfigName 设置配置文件名（不含扩展名），配合 WithConfigPaths 使用
func WithConfigName(name string) Option {
	return func(c *Config) { c.configName = name }
}

// WithConfigType 设置配置文件类型（yaml, json, toml）
func WithConfigType(typ string) Option {
	return func(c *Config) { c.configType = typ }
}

// WithConfigPaths 设置配置文件搜索路径
func WithConfigPaths(paths ...string) Option {
	return func(c *Config) { c.configPaths = append(c.configPaths, paths...) }
}

// WithAutoWatch Load 成功后立即开启文件监控
// 回调依赖 Load 之后才初始化的对象时，应改为显式调用 StartWatch
func WithAutoWatch(watch bool) Option {
	return func(c *Config) { c.autoWatch = watch }
}

// WithOnChange 设置配置变更回调，参数为触发变更的文件名，回调时配置已重新读取
func WithOnChange(fn func(event string)) Option {
	return func(c *Config) { c.onChange = fn }
}

// WithDefaults 设置默认值，多次调用时合并
func WithDefaults(defaults map[string]any) Option {
	return func(c *Config) {
		if c.defaults == nil {
			c.defaults = make(map[string]any, len(defaults))
		}
		for k, v := range defaults {
			c.defaults[k] = v
		}
	}
}

// WithEnv 允许环境变量覆盖配置，键名为 PREFIX_ 加上以下划线连接的路径，
// 如 QICHAT_TRANSPORT_DRIVER 覆盖 transport.driver
func WithEnv(prefix string) Option {
	return func(c *Config) {
		c.envPrefix = prefix
		if c.envKeyReplacer == nil {
			c.envKeyReplacer = strings.NewReplacer(".", "_")
		}
	}
}

// WithEnvKeyReplacer 自定义环境变量键名替换器
func WithEnvKeyReplacer(r *strings.Replacer) Option {
	return func(c *Config) { c.envKeyReplacer = r }
}
