package hlog

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr/funcr"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	t.Setenv("DELVE_DEBUGGER", "")
	assert.Equal(t, zerolog.ErrorLevel, parseLogLevel(false, false, zerolog.ErrorLevel))
	assert.Equal(t, zerolog.InfoLevel, parseLogLevel(true, false, zerolog.ErrorLevel))
	assert.Equal(t, zerolog.DebugLevel, parseLogLevel(true, true, zerolog.ErrorLevel))
	assert.Equal(t, zerolog.InfoLevel, parseLogLevel(false, false, zerolog.InfoLevel))
}

func TestIsContextCancellation(t *testing.T) {
	assert.False(t, IsContextCancellation(nil))
	assert.False(t, IsContextCancellation(errors.New("boom")))
	assert.True(t, IsContextCancellation(fmt.Errorf("publish: %w", context.Canceled)))
	assert.True(t, IsContextCancellation(context.DeadlineExceeded))
}

func TestLogDirFollowsXDGState(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", dir)
	if getLogDir() == filepath.Join("/var/log", Name) {
		t.Skip("running as root")
	}
	assert.Equal(t, filepath.Join(dir, Name, "logs"), getLogDir())
}

func TestInitWithStderrOverride(t *testing.T) {
	t.Setenv(LogEnv, "stderr")
	InitForDaemon(true, false)
	assert.True(t, Logger.Enabled())
	assert.False(t, Logger.V(1).Enabled())
}

func TestErrorIfNotCanceled(t *testing.T) {
	var logged []string
	log := funcr.New(func(prefix, args string) {
		logged = append(logged, args)
	}, funcr.Options{})

	ErrorIfNotCanceled(log, nil, "Collector stopped")
	ErrorIfNotCanceled(log, fmt.Errorf("run: %w", context.Canceled), "Collector stopped")
	assert.Empty(t, logged)

	ErrorIfNotCanceled(log, errors.New("no such device"), "Collector stopped", "mac", "CBB8334C884F")
	require.Len(t, logged, 1)
	assert.Contains(t, logged[0], "no such device")
	assert.Contains(t, logged[0], "CBB8334C884F")
}
