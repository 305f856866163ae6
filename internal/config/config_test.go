package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "asmdump.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, StrategyTables, cfg.Strategy)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  pretty: true
strategy: inspect
probe_dirs:
  - /usr/lib/dotnet/shared
output:
  pretty: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Pretty)
	assert.Equal(t, StrategyInspect, cfg.Strategy)
	assert.Equal(t, []string{"/usr/lib/dotnet/shared"}, cfg.ProbeDirs)
	assert.False(t, cfg.Output.Pretty)

	lc := cfg.LoggingConfig()
	assert.Equal(t, "debug", lc.Level)
	assert.True(t, lc.Pretty)
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "strategy: inspect\n"))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, cfg.Output.Pretty)
}

func TestLoadInvalid(t *testing.T) {
	_, err := Load(writeConfig(t, "strategy: [unclosed\n"))
	assert.ErrorContains(t, err, "failed to parse config")

	_, err = Load(writeConfig(t, "strategy: native\nlog:\n  level: loud\nprobe_dirs: [\"\"]\n"))
	require.Error(t, err)
	var verr *MultiValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Errors, 3)
	assert.Equal(t, "log.level", verr.Errors[0].Field)
	assert.Equal(t, "strategy", verr.Errors[1].Field)
	assert.Equal(t, "probe_dirs[0]", verr.Errors[2].Field)
}
