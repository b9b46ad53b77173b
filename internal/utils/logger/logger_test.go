package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"golang.org/x/exp/slog"

	"clinsync/internal/app/server/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name          string
		env           string
		expectedLevel slog.Level
	}{
		{name: "local environment", env: config.EnvLocal, expectedLevel: slog.LevelDebug},
		{name: "dev environment", env: config.EnvDev, expectedLevel: slog.LevelDebug},
		{name: "prod environment", env: config.EnvProd, expectedLevel: slog.LevelInfo},
		{name: "unknown environment", env: "staging", expectedLevel: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(tt.env)
			require.NotNil(t, logger)
			ctx := context.Background()
			assert.Equal(t, tt.expectedLevel <= slog.LevelDebug, logger.Enabled(ctx, slog.LevelDebug))
			assert.True(t, logger.Enabled(ctx, slog.LevelInfo))
		})
	}
}

func TestNewLevel(t *testing.T) {
	ctx := context.Background()

	assert.False(t, NewLevel(config.EnvDev, "warn").Enabled(ctx, slog.LevelInfo))
	assert.True(t, NewLevel(config.EnvProd, "debug").Enabled(ctx, slog.LevelDebug))
	assert.False(t, NewLevel(config.EnvProd, "verbose").Enabled(ctx, slog.LevelDebug))
}

func TestPrettyHandler(t *testing.T) {
	var buf bytes.Buffer
	opts := PrettyHandlerOptions{SlogOpts: &slog.HandlerOptions{Level: slog.LevelDebug}}
	log := slog.New(opts.NewPrettyHandler(&buf)).With("component", "syncer")

	log.Error("sync failed", "document", "case-1", "error", errors.New("connection refused"))

	out := buf.String()
	assert.Contains(t, out, "sync failed")
	assert.Contains(t, out, `"component": "syncer"`)
	assert.Contains(t, out, `"document": "case-1"`)
	assert.Contains(t, out, `"error": "connection refused"`)
}
