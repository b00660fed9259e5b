package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"

	"github.com/SyedDaiam9101/fundus-service/internal/config"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.LogConfig
		wantLevel zapcore.Level
	}{
		{"json info", config.LogConfig{Level: "info", Format: "json"}, zapcore.InfoLevel},
		{"console debug", config.LogConfig{Level: "debug", Format: "console"}, zapcore.DebugLevel},
		{"invalid level defaults to info", config.LogConfig{Level: "invalid", Format: "json"}, zapcore.InfoLevel},
		{"warn level", config.LogConfig{Level: "warn", Format: "json"}, zapcore.WarnLevel},
		{"error level", config.LogConfig{Level: "error", Format: "json"}, zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(&tt.cfg)

			assert.NoError(t, err)
			assert.NotNil(t, logger)
			assert.True(t, logger.Core().Enabled(tt.wantLevel))
			if tt.wantLevel > zapcore.DebugLevel {
				assert.False(t, logger.Core().Enabled(tt.wantLevel-1))
			}
		})
	}
}
