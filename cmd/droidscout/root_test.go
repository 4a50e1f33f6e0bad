package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/droidscout/internal/logging"
	"github.com/aretw0/droidscout/pkg/adapters/file"
	loamAdapter "github.com/aretw0/droidscout/pkg/adapters/loam"
	"github.com/aretw0/droidscout/pkg/adapters/memory"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	addPersistentFlags(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestLoadConfig_FileAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "droidscout.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  bundle: com.example.notes
explore:
  depth_limit: 4
  time_limit: 30m
log_level: warn
`), 0o644))

	cfg, err := loadConfig(newTestCmd(t, "--config", path, "--log-level", "debug", "--store-dir", "/tmp/runs"))
	require.NoError(t, err)
	assert.Equal(t, "com.example.notes", cfg.App.Bundle)
	assert.Equal(t, 4, cfg.Explore.DepthLimit)
	assert.Equal(t, 30*time.Minute, cfg.Explore.TimeLimit)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "file", cfg.Store.Kind)
	assert.Equal(t, "/tmp/runs", cfg.Store.Dir)
}

func TestOpenStore(t *testing.T) {
	cfg, err := loadConfig(newTestCmd(t))
	require.NoError(t, err)

	rs := openStore(cfg, logging.NewNop())
	assert.IsType(t, &file.Store{}, rs.store)
	assert.Nil(t, rs.locker)
	assert.Nil(t, rs.catalog)
	assert.NoError(t, rs.close())

	cfg.Store.Kind = "memory"
	rs = openStore(cfg, logging.NewNop())
	assert.IsType(t, &memory.Store{}, rs.store)
}

func TestOpenStore_CatalogFlag(t *testing.T) {
	dir := t.TempDir()
	cfg, err := loadConfig(newTestCmd(t, "--catalog-dir", dir))
	require.NoError(t, err)
	assert.True(t, cfg.Catalog.Enabled)

	rs := openStore(cfg, logging.NewNop())
	require.IsType(t, &loamAdapter.Catalog{}, rs.catalog)
	assert.Equal(t, dir, rs.catalog.(*loamAdapter.Catalog).Root)
	assert.Len(t, rs.engineOptions(cfg, logging.NewNop()), 4)
}

func TestNewLogger_RejectsUnknownLevel(t *testing.T) {
	cfg, err := loadConfig(newTestCmd(t))
	require.NoError(t, err)
	cfg.LogLevel = "loud"
	_, err = newLogger(cfg)
	assert.Error(t, err)
}
