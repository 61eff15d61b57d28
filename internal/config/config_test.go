package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/keagan/keyframer/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 0.9, cfg.Extract.Threshold)
	assert.Equal(t, 25, cfg.Extract.MinClusterSize)
	assert.Equal(t, 63, cfg.Extract.SVDRank)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "png", cfg.Output.Format)
	assert.Equal(t, "output", cfg.Output.Dir)
	assert.Equal(t, RetainMemory, cfg.Retention)
	assert.NoError(t, cfg.Validate())
}

// isolate points the config search at empty directories.
func isolate(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
}

func TestLoadWithoutConfigFileUsesDefaults(t *testing.T) {
	isolate(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")
	_, err := Load(path)
	require.ErrorIs(t, err, errs.ErrConfig)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), path)
}

func TestLoadFindsConfigInWorkingDir(t *testing.T) {
	isolate(t)
	require.NoError(t, os.WriteFile("keyframer.yaml", []byte("workers: 2\n"), 0644))
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Workers)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyframer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
extract:
  threshold: 0.8
  min_cluster_size: 10
output:
  format: jpeg
retention: redecode
`), 0644))

	t.Setenv("KEYFRAMER_EXTRACT_SVD_RANK", "12")
	t.Setenv("KEYFRAMER_OUTPUT_SKIP_EXISTING", "true")
	t.Setenv("KEYFRAMER_EXTRACT_MIN_CLUSTER_SIZE", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.8, cfg.Extract.Threshold)
	assert.Equal(t, 7, cfg.Extract.MinClusterSize)
	assert.Equal(t, 12, cfg.Extract.SVDRank)
	assert.Equal(t, "jpeg", cfg.Output.Format)
	assert.True(t, cfg.Output.SkipExisting)
	assert.Equal(t, RetainRedecode, cfg.Retention)
	assert.Equal(t, "output", cfg.Output.Dir)
	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsBadInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("extract: [1, 2"), 0644))
	_, err := Load(path)
	assert.ErrorIs(t, err, errs.ErrConfig)

	isolate(t)
	t.Setenv("KEYFRAMER_WORKERS", "many")
	_, err = Load("")
	assert.ErrorIs(t, err, errs.ErrConfig)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"threshold zero":     func(c *Config) { c.Extract.Threshold = 0 },
		"threshold one":      func(c *Config) { c.Extract.Threshold = 1 },
		"min size zero":      func(c *Config) { c.Extract.MinClusterSize = 0 },
		"rank zero":          func(c *Config) { c.Extract.SVDRank = 0 },
		"rank too large":     func(c *Config) { c.Extract.SVDRank = 1944 },
		"negative workers":   func(c *Config) { c.Workers = -1 },
		"unknown retention":  func(c *Config) { c.Retention = "disk" },
		"unknown format":     func(c *Config) { c.Output.Format = "gif" },
		"negative max width": func(c *Config) { c.Decode.MaxWidth = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), errs.ErrConfig)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Extract.Threshold = 0.75
	cfg.Decode.SampleFPS = 2

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestContext(t *testing.T) {
	assert.Equal(t, Default(), FromContext(context.Background()))

	cfg := Default()
	cfg.Workers = 9
	ctx := WithConfig(context.Background(), cfg)
	assert.Same(t, cfg, FromContext(ctx))
}
