package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"collect", "status", "cache", "export", "store"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "histcollect", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.Equal(t, version, rootCmd.Version)
}

func TestRootCommand_PersistentFlags(t *testing.T) {
	for _, name := range []string{"driver", "db", "config", "log-level"} {
		flag := rootCmd.PersistentFlags().Lookup(name)
		require.NotNil(t, flag, "root should have --%s", name)
		assert.Equal(t, "", flag.DefValue)
	}
}

func TestCollectCommand_Flags(t *testing.T) {
	tests := []struct {
		name string
		def  string
	}{
		{"sport", "all"},
		{"years", ""},
		{"workers", "1"},
		{"resume", "false"},
		{"export-json", ""},
		{"phases", "[]"},
		{"every", ""},
	}
	for _, tt := range tests {
		flag := collectCmd.Flags().Lookup(tt.name)
		require.NotNil(t, flag, "collect should have --%s flag", tt.name)
		assert.Equal(t, tt.def, flag.DefValue, "--%s default", tt.name)
	}
}

func TestExportCommand_Flags(t *testing.T) {
	for _, name := range []string{"format", "out", "sport", "years"} {
		assert.NotNil(t, exportCmd.Flags().Lookup(name), "export should have --%s flag", name)
	}
}

func TestCacheCommand_HasClear(t *testing.T) {
	var found bool
	for _, c := range cacheCmd.Commands() {
		if c.Name() == "clear" {
			found = true
		}
	}
	assert.True(t, found)
	assert.NotNil(t, cacheClearCmd.Flags().Lookup("prefix"))
}

func TestRootCmd_PersistentPreRunE_WithValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
store:
  driver: sqlite
  path: games.db
log:
  level: info
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte(configContent), 0o644))

	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer os.Chdir(origDir) //nolint:errcheck

	oldCfg := cfg
	cfg = nil
	defer func() { cfg = oldCfg }()

	err := rootCmd.PersistentPreRunE(rootCmd, nil)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "games.db", cfg.Store.Path)
}

func TestRootCmd_PersistentPreRunE_InvalidLogLevel(t *testing.T) {
	tmpDir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer os.Chdir(origDir) //nolint:errcheck
	t.Setenv("HISTCOLLECT_LOG_LEVEL", "loud")

	oldCfg := cfg
	defer func() { cfg = oldCfg }()

	err := rootCmd.PersistentPreRunE(rootCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init logger")
}

func TestRootCmd_PersistentPreRunE_ConfigFlag(t *testing.T) {
	tmpDir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer os.Chdir(origDir) //nolint:errcheck

	path := filepath.Join(t.TempDir(), "prod.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  path: prod.db\nlog:\n  format: console\n"), 0o644))

	require.NoError(t, rootCmd.PersistentFlags().Set("config", path))
	require.NoError(t, rootCmd.PersistentFlags().Set("log-level", "debug"))
	t.Cleanup(func() {
		rootCmd.PersistentFlags().Set("config", "")    //nolint:errcheck
		rootCmd.PersistentFlags().Set("log-level", "") //nolint:errcheck
	})

	oldCfg := cfg
	defer func() { cfg = oldCfg }()

	require.NoError(t, rootCmd.PersistentPreRunE(rootCmd, nil))
	assert.Equal(t, "prod.db", cfg.Store.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestRootCmd_PersistentPreRunE_MissingConfigFile(t *testing.T) {
	require.NoError(t, rootCmd.PersistentFlags().Set("config", filepath.Join(t.TempDir(), "absent.yaml")))
	t.Cleanup(func() { rootCmd.PersistentFlags().Set("config", "") }) //nolint:errcheck

	oldCfg := cfg
	defer func() { cfg = oldCfg }()

	err := rootCmd.PersistentPreRunE(rootCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}
