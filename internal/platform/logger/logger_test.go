package logger_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/fieldlens/analysis-queue/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		level slog.Level
		ok    bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"Warn", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"fatal", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
	}

	for _, tt := range tests {
		level, ok := logger.ParseLevel(tt.name)
		assert.Equal(t, tt.level, level, "level for %q", tt.name)
		assert.Equal(t, tt.ok, ok, "ok for %q", tt.name)
	}
}

func TestSetup_InvalidLevelWarns(t *testing.T) {
	original := slog.Default()
	t.Cleanup(func() { slog.SetDefault(original) })

	buf := &logger.Buffer{}
	l := logger.Setup("loud", buf)
	require.NotNil(t, l)

	l.Debug("hidden")
	l.Info("visible")

	entries, err := buf.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "WARN", entries[0]["level"])
	assert.Equal(t, "loud", entries[0]["configured_level"])
	assert.Equal(t, "visible", entries[1]["msg"])
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()

	l, buf := logger.NewBufferLogger()
	ctx := logger.WithContext(context.Background(), l.With("job_id", "abc"))

	logger.FromContext(ctx).Info("from context")

	assert.Contains(t, buf.String(), `"job_id":"abc"`)
	assert.Equal(t, slog.Default(), logger.FromContext(context.Background()))
}

func TestFromContextOrDefault(t *testing.T) {
	t.Parallel()

	fallback := logger.Discard()
	assert.Same(t, fallback, logger.FromContextOrDefault(context.Background(), fallback))

	l := logger.Discard()
	ctx := logger.WithContext(context.Background(), l)
	assert.Same(t, l, logger.FromContextOrDefault(ctx, fallback))
}
