package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// startWatch 开始监控配置文件变更
// 调用方必须持有 mu 锁
func (c *Config) startWatch() {
	if !c.registered {
		c.viper.OnConfigChange(c.handleEvent)
		c.viper.WatchConfig()
		c.registered = true
	}
	c.watching = true
}

// handleEvent 处理文件事件，viper 已在回调前重新读取配置
func (c *Config) handleEvent(e fsnotify.Event) {
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
		return
	}

	c.mu.RLock()
	watching := c.watching
	onChange := c.onChange
	c.mu.RUnlock()

	if !watching || onChange == nil {
		return
	}
	onChange(e.Name)
}

// StartWatch 开始监控配置文件变更，已在监控中则不重复启动
func (c *Config) StartWatch() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.viper.ConfigFileUsed() == "" {
		return fmt.Errorf("%w: load config before watching", ErrConfigNotFound)
	}
	c.startWatch()
	return nil
}

// StopWatch 停止监控配置文件
// viper 未提供停止底层 fsnotify watcher 的方法，此处仅使回调不再生效
func (c *Config) StopWatch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watching = false
}

// IsWatching 是否正在监控
func (c *Config) IsWatching() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.watching
}
