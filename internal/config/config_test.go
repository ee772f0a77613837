package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvLogLevel, "")
	t.Setenv(EnvNoColor, "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "_patched", cfg.Apply.Suffix)
	assert.True(t, cfg.Apply.CreateBackup)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "machscope.toml")
	content := `
log_level = "warn"

[apply]
suffix = "_mod"
create_backup = false
force_apply_on_mismatch = true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "_mod", cfg.Apply.Suffix)
	assert.False(t, cfg.Apply.CreateBackup)
	assert.True(t, cfg.Apply.ForceApplyOnMismatch)
	assert.Equal(t, "_backup", cfg.Apply.BackupSuffix, "unset keys keep defaults")

	t.Setenv(EnvLogLevel, "DEBUG")
	t.Setenv(EnvBackup, "true")
	t.Setenv(EnvNoColor, "1")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Apply.CreateBackup)
	assert.True(t, cfg.NoColor)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("log_level = [\n"), 0o644))
	_, err = Load(bad)
	assert.Error(t, err)

	level := filepath.Join(dir, "level.toml")
	require.NoError(t, os.WriteFile(level, []byte(`log_level = "loud"`), 0o644))
	_, err = Load(level)
	assert.ErrorIs(t, err, ErrInvalidLogLevel)

	t.Setenv(EnvBackup, "maybe")
	_, err = Load("")
	assert.Error(t, err)
}
