package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaultsWhenMissing(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigLayersFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rbridge.yaml")
	content := "engine:\n  max_execution_time_seconds: 30\npackages:\n  auto_install: false\nrepl:\n  prompt: \"> \"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	t.Setenv("RBRIDGE_ENGINE_PLOT_WIDTH", "1024")
	t.Setenv("RBRIDGE_LOGGING_FILE", "/tmp/rbridge.log")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Engine.MaxExecutionTime)
	assert.False(t, cfg.Packages.AutoInstall)
	assert.Equal(t, "> ", cfg.REPL.Prompt)
	assert.Equal(t, 1024, cfg.Engine.PlotWidth)
	assert.Equal(t, "/tmp/rbridge.log", cfg.Logging.File)
	assert.Equal(t, 600, cfg.Engine.PlotHeight)
	assert.Equal(t, "https://cloud.r-project.org", cfg.Packages.FallbackRepo)
}

func TestLoadConfigRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	for _, name := range []string{"config.yaml", "config.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			cfg := DefaultConfig()
			cfg.Cache.MaxDatasets = 8
			cfg.Packages.Baseline = []string{"ggplot2"}
			require.NoError(t, SaveConfig(cfg, path))

			loaded, err := LoadConfig(path)
			require.NoError(t, err)
			assert.Equal(t, uint64(8), loaded.Cache.MaxDatasets)
			assert.Equal(t, []string{"ggplot2"}, loaded.Packages.Baseline)
		})
	}
}
