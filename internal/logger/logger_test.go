package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unsetenv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func TestNew_ReadsLevelFromDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LOG_LEVEL=warn\n"), 0o600))
	t.Chdir(dir)
	unsetenv(t, "LOG_LEVEL")
	unsetenv(t, "LOG_PRETTY")

	assert.Equal(t, zerolog.WarnLevel, New().GetLevel())
}

func TestNew_EnvironmentWinsOverDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LOG_LEVEL=warn\n"), 0o600))
	t.Chdir(dir)
	t.Setenv("LOG_LEVEL", "debug")

	assert.Equal(t, zerolog.DebugLevel, New().GetLevel())
}

func TestNew_DefaultsToInfo(t *testing.T) {
	t.Chdir(t.TempDir())
	unsetenv(t, "LOG_LEVEL")

	assert.Equal(t, zerolog.InfoLevel, New().GetLevel())
}
