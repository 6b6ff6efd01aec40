package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vatn.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"p2_commit_attempts: 9\nwait_on_collapse: false\nenable_tracing: true\nstore_path: /tmp/x.db\n",
	), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.P2CommitAttempts)
	assert.False(t, cfg.WaitOnCollapse)
	assert.True(t, cfg.EnableTracing)
	assert.Equal(t, "/tmp/x.db", cfg.StorePath)
}

func TestLoadFillsInvalidAttempts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vatn.yaml")
	require.NoError(t, os.WriteFile(path, []byte("p2_commit_attempts: 0\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default().P2CommitAttempts, cfg.P2CommitAttempts)
}
