package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWhenFileAbsent(t *testing.T) {
	cfg, err := Load(LoaderOptions{ConfigPaths: []string{t.TempDir()}})
	require.NoError(t, err)
	require.Equal(t, Defaults().Store.Path, cfg.Store.Path)
	require.Equal(t, "squash", cfg.Merge.Type)
	require.True(t, cfg.Router.CancelInFlightOnBlock) // defaulted to true when unset
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("DEVFLOW_TEST_TOKEN", "secret-value")

	dir := t.TempDir()
	path := filepath.Join(dir, "devflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("github:\n  token: \"${DEVFLOW_TEST_TOKEN}\"\n"), 0o644))

	cfg, err := Load(LoaderOptions{ConfigPaths: []string{dir}})
	require.NoError(t, err)
	require.Equal(t, "secret-value", cfg.GitHub.Token)
}

func TestIsValidRejectsUnknownPolicy(t *testing.T) {
	cfg := Defaults()
	cfg.Reconcile.DefaultPolicy = "bogus"
	require.Error(t, cfg.IsValid())
}

func TestIsValidRejectsUnknownMergeType(t *testing.T) {
	cfg := Defaults()
	cfg.Merge.Type = "bogus"
	require.Error(t, cfg.IsValid())
}
