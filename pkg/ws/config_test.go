package ws

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero connections", func(c *Config) { c.MaxConnections = 0 }},
		{"zero queue", func(c *Config) { c.MessageQueueSize = 0 }},
		{"zero control queue", func(c *Config) { c.ControlQueueSize = 0 }},
		{"negative message size", func(c *Config) { c.MaxMessageSize = -1 }},
		{"timeout not above interval", func(c *Config) { c.HeartbeatTimeout = c.HeartbeatInterval }},
		{"zero read buffer", func(c *Config) { c.Upgrader.ReadBufferSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestWithConfigKeepsDefaults(t *testing.T) {
	cfg := DefaultConfig()
	WithConfig(Config{MaxConnections: 5, HeartbeatInterval: time.Second, HeartbeatTimeout: 3 * time.Second})(cfg)

	assert.Equal(t, 5, cfg.MaxConnections)
	assert.Equal(t, time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 256, cfg.MessageQueueSize)
	assert.Equal(t, 1024, cfg.Upgrader.ReadBufferSize)
	require.NoError(t, cfg.Validate())
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name   string
		opts   []Option
		origin string
		want   bool
	}{
		{"same origin", nil, "http://chat.local", true},
		{"same origin https", nil, "https://chat.local", true},
		{"cross origin", nil, "http://evil.local", false},
		{"missing origin", nil, "", false},
		{"whitelisted", []Option{WithCheckOriginWhitelist([]string{"https://app.local"})}, "https://app.local", true},
		{"not whitelisted", []Option{WithCheckOriginWhitelist([]string{"https://app.local"})}, "http://chat.local", false},
		{"allow all", []Option{WithAllowAllOrigins()}, "http://evil.local", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			for _, opt := range tt.opts {
				opt(cfg)
			}
			r := httptest.NewRequest("GET", "http://chat.local/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, newUpgrader(cfg).CheckOrigin(r))
		})
	}
}
