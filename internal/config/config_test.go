package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ianremillard/tterm/internal/config"
)

func TestLoadDefaultsWithNoFile(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 300*time.Second, cfg.OrphanTimeout)
	assert.Equal(t, 60*time.Second, cfg.SweepInterval)
	assert.Equal(t, "/bin/bash", cfg.DefaultShell)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/bin/bash", cfg.DefaultShell)
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ttermd.yaml")
	body := "socket_path: /tmp/custom.sock\ndefault_shell: /bin/zsh\norphan_timeout_seconds: 10\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.sock", cfg.SocketPath)
	assert.Equal(t, "/bin/zsh", cfg.DefaultShell)
	assert.Equal(t, 10*time.Second, cfg.OrphanTimeout)
	assert.Equal(t, 60*time.Second, cfg.SweepInterval, "unset fields keep the default")
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ttermd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("socket_path: /tmp/from-file.sock\n"), 0o600))

	t.Setenv(config.EnvSocketPath, "/tmp/from-env.sock")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-env.sock", cfg.SocketPath)
}
