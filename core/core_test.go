package core

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValues(t *testing.T) {
	clearPilotEnv(t)
	cfg := DefaultConfig()
	assert.True(t, cfg.PilotEnabled)
	assert.Equal(t, 3, cfg.MaxParallelSteps)
	assert.Equal(t, 5*time.Minute, cfg.DefaultTimeout)
	assert.True(t, cfg.EnableCaching)
	assert.Equal(t, 400, cfg.CalculatorTokensPerPlugin)
}

func TestApplyEnvOverrides(t *testing.T) {
	clearPilotEnv(t)
	t.Setenv("PILOT_ENABLED", "false")
	t.Setenv("PILOT_MAX_PARALLEL_STEPS", "7")
	t.Setenv("PILOT_DEFAULT_TIMEOUT", "90s")
	t.Setenv("PILOT_TOKENS_PER_PLUGIN", "0")

	cfg := DefaultConfig()
	assert.False(t, cfg.PilotEnabled)
	assert.Equal(t, 7, cfg.MaxParallelSteps)
	assert.Equal(t, 90*time.Second, cfg.DefaultTimeout)
	assert.Equal(t, 0, cfg.CalculatorTokensPerPlugin)
}

func TestApplyEnvIgnoresInvalidValues(t *testing.T) {
	clearPilotEnv(t)
	t.Setenv("PILOT_MAX_PARALLEL_STEPS", "not-a-number")
	t.Setenv("PILOT_DEFAULT_TIMEOUT", "not-a-duration")

	cfg := DefaultConfig()
	assert.Equal(t, 3, cfg.MaxParallelSteps)
	assert.Equal(t, 5*time.Minute, cfg.DefaultTimeout)
}

func TestLoadFromFileOverlaysDefaultsAndEnv(t *testing.T) {
	clearPilotEnv(t)
	dir := t.TempDir()
	path := dir + "/pilot.yaml"
	require.NoError(t, os.WriteFile(path, []byte("max_parallel_steps: 9\ndefault_timeout: 45s\n"), 0o644))

	t.Setenv("PILOT_ENABLED", "false")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.MaxParallelSteps)
	assert.Equal(t, 45*time.Second, cfg.DefaultTimeout)
	assert.False(t, cfg.PilotEnabled, "env override should win over both file and defaults")
}

func TestLoadFromFileMissingFile(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/pilot.yaml")
	assert.Error(t, err)
}

func clearPilotEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PILOT_ENABLED", "PILOT_MAX_PARALLEL_STEPS", "PILOT_DEFAULT_TIMEOUT",
		"PILOT_ENABLE_CACHING", "PILOT_CONTINUE_ON_ERROR", "PILOT_ENABLE_PROGRESS_TRACKING",
		"PILOT_ENABLE_REALTIME_UPDATES", "PILOT_ENABLE_OPTIMIZATIONS",
		"PILOT_MEMORY_LOAD_TIMEOUT_MS", "PILOT_TOKENS_PER_PLUGIN",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestTokenUsageAdd(t *testing.T) {
	a := TokenUsage{Total: 10, Prompt: 6, Completion: 4}
	b := TokenUsage{Total: 5, Prompt: 2, Completion: 3}
	sum := a.Add(b)
	assert.Equal(t, TokenUsage{Total: 15, Prompt: 8, Completion: 7}, sum)
}

func TestNewIDWithAndWithoutPrefix(t *testing.T) {
	withPrefix := NewID("exec")
	assert.Contains(t, withPrefix, "exec-")

	bare := NewID("")
	assert.NotEmpty(t, bare)
	assert.NotContains(t, bare, "-exec")

	assert.NotEqual(t, NewID("exec"), NewID("exec"), "ids must not collide")
}

func TestFrameworkErrorMessages(t *testing.T) {
	wrapped := errors.New("boom")
	withOp := NewFrameworkError("store.Save", "network", wrapped)
	assert.Equal(t, "store.Save: boom", withOp.Error())

	withID := &FrameworkError{Op: "store.Save", ID: "exec-1", Err: wrapped}
	assert.Equal(t, "store.Save [exec-1]: boom", withID.Error())

	messageOnly := &FrameworkError{Message: "custom message"}
	assert.Equal(t, "custom message", messageOnly.Error())

	kindOnly := &FrameworkError{Kind: "network"}
	assert.Equal(t, "network error", kindOnly.Error())

	assert.ErrorIs(t, withOp, wrapped)
}

func TestStructuredLoggerFiltersBelowLevelAndInvokesHook(t *testing.T) {
	logger := NewStructuredLogger("test", LevelWarn)

	var captured []string
	logger.WithEmitHook(func(level, msg string, fields map[string]interface{}) {
		captured = append(captured, level+":"+msg)
	})

	logger.Debug("should be filtered", nil)
	logger.Info("also filtered", nil)
	logger.Warn("warn event", map[string]interface{}{"k": "v"})
	logger.Error("error event", nil)

	require.Len(t, captured, 2)
	assert.Equal(t, "WARN:warn event", captured[0])
	assert.Equal(t, "ERROR:error event", captured[1])
}

func TestStructuredLoggerWithContextCarriesRequestID(t *testing.T) {
	logger := NewStructuredLogger("test", LevelDebug)
	ctx := WithRequestID(context.Background(), "exec-123")

	var capturedFields map[string]interface{}
	logger.WithEmitHook(func(level, msg string, fields map[string]interface{}) {
		capturedFields = fields
	})
	logger.InfoWithContext(ctx, "hello", map[string]interface{}{"a": 1})
	assert.Equal(t, 1, capturedFields["a"])
	assert.Equal(t, "exec-123", requestIDFromContext(ctx))
	assert.Equal(t, "", requestIDFromContext(context.Background()))
}

func TestNoOpLoggerDoesNothing(t *testing.T) {
	var l Logger = &NoOpLogger{}
	assert.NotPanics(t, func() {
		l.Info("x", nil)
		l.Warn("x", nil)
		l.Error("x", nil)
		l.Debug("x", nil)
		l.InfoWithContext(context.Background(), "x", nil)
	})
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrTimeout))
	assert.False(t, IsRetryable(ErrCancelled))
	assert.False(t, IsRetryable(ErrNotFound))
	assert.False(t, IsRetryable(errors.New("plain error")))

	assert.True(t, IsRetryable(NewFrameworkError("plugin.Call", "plugin", errors.New("timeout"))))
	assert.True(t, IsRetryable(NewFrameworkError("llm.Run", "llm", errors.New("rate limited"))))
	assert.True(t, IsRetryable(NewFrameworkError("http.Get", "network", errors.New("conn reset"))))
	assert.False(t, IsRetryable(NewFrameworkError("validate", "validation", errors.New("bad input"))))
}
