package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TestNew 测试创建 Logger
func TestNew(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name   string
		config *Config
	}{
		{name: "nil config", config: nil},
		{name: "console output", config: &Config{Level: InfoLevel, Format: JSONFormat, Console: true}},
		{name: "file output", config: &Config{File: filepath.Join(dir, "chat.log")}},
		{name: "rotate output", config: &Config{Rotate: &RotateConfig{Filename: filepath.Join(dir, "rotate.log")}}},
		{name: "sampling", config: &Config{Console: true, Sampling: &SamplingConfig{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.config)
			require.NoError(t, err)
			require.NotNil(t, l)
			l.Info("hello")
		})
	}
}

func TestSetLevel(t *testing.T) {
	var hits int
	l, err := NewWithOptions(
		WithLevel(InfoLevel),
		WithFileOutput(filepath.Join(t.TempDir(), "level.log")),
		WithHook(hookFunc(func(zapcore.Entry) { hits++ })),
	)
	require.NoError(t, err)

	l.Debug("dropped")
	assert.Equal(t, 0, hits)

	l.SetLevel(DebugLevel)
	assert.Equal(t, DebugLevel, l.Level())
	l.Debug("kept")
	assert.Equal(t, 1, hits)

	// 子 Logger 共享级别
	child := l.With(zap.String("module", "chat"))
	l.SetLevel(WarnLevel)
	child.Info("dropped")
	assert.Equal(t, 1, hits)
}

func TestContextFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctx.log")
	l, err := NewWithOptions(WithFileOutput(path), WithFormat(JSONFormat), WithCaller(false))
	require.NoError(t, err)

	ctx := WithConnID(context.Background(), "conn-1")
	ctx = WithRoom(ctx, "chat_lobby")
	ctx = WithUser(ctx, "alice")
	l.InfoContext(ctx, "joined", zap.Int("rooms", 1))
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "conn-1", entry["conn_id"])
	assert.Equal(t, "chat_lobby", entry["room"])
	assert.Equal(t, "alice", entry["user"])
	assert.Equal(t, float64(1), entry["rooms"])

	assert.Equal(t, "conn-1", ConnIDFrom(ctx))
	assert.Equal(t, "alice", UserFrom(ctx))
	assert.Empty(t, ConnIDFrom(context.Background()))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"", InfoLevel, false},
		{"INFO", InfoLevel, false},
		{"warning", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"loud", InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, mustParse(t, got.String()))
		})
	}
}

func TestDefaults(t *testing.T) {
	c := &Config{Rotate: &RotateConfig{Filename: "x.log"}, Sampling: &SamplingConfig{}}
	c.setDefaults()

	assert.Equal(t, JSONFormat, c.Format)
	assert.False(t, c.Console)
	assert.Equal(t, 100, c.Rotate.MaxSize)
	assert.Equal(t, 30, c.Rotate.MaxAge)
	assert.Equal(t, 10, c.Rotate.MaxBackups)
	assert.Equal(t, 100, c.Sampling.Initial)
	assert.True(t, ConsoleFormat.IsValid())
	assert.False(t, Format("xml").IsValid())
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var entries []zapcore.Entry
	l, err := NewWithOptions(
		WithFileOutput(filepath.Join(t.TempDir(), "http.log")),
		WithHook(hookFunc(func(e zapcore.Entry) { entries = append(entries, e) })),
	)
	require.NoError(t, err)

	r := gin.New()
	r.Use(Middleware(l, "/healthz"))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	for _, p := range []string{"/healthz", "/missing"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, p, nil))
	}

	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
}

func TestNop(t *testing.T) {
	l := NewNop()
	l.Info("nothing")
	assert.NoError(t, l.Sync())
	assert.NotNil(t, FromZap(zap.NewNop()))
}

type hookFunc func(zapcore.Entry)

func (h hookFunc) OnWrite(entry zapcore.Entry, _ []zapcore.Field) error {
	h(entry)
	return nil
}

func mustParse(t *testing.T, s string) Level {
	t.Helper()
	l, err := ParseLevel(s)
	require.NoError(t, err)
	return l
}

func TestSettingsConfig(t *testing.T) {
	cfg, err := Settings{Level: "debug", Format: "console", File: "/tmp/qichat.log", MaxSize: 5, SampleInitial: 10}.Config()
	require.NoError(t, err)
	assert.Equal(t, DebugLevel, cfg.Level)
	assert.Equal(t, ConsoleFormat, cfg.Format)
	require.NotNil(t, cfg.Rotate)
	assert.Equal(t, "/tmp/qichat.log", cfg.Rotate.Filename)
	assert.Equal(t, 5, cfg.Rotate.MaxSize)
	require.NotNil(t, cfg.Sampling)
	assert.Equal(t, 10, cfg.Sampling.Initial)

	cfg, err = Settings{}.Config()
	require.NoError(t, err)
	assert.Equal(t, InfoLevel, cfg.Level)
	assert.Equal(t, JSONFormat, cfg.Format)
	assert.Nil(t, cfg.Rotate)
	assert.Nil(t, cfg.Sampling)

	_, err = Settings{Level: "loud"}.Config()
	assert.Error(t, err)
	_, err = Settings{Format: "xml"}.Config()
	assert.Error(t, err)
}
