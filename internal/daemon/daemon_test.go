package daemon

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/localmemory/memcore/internal/config"
)

func newTestConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		WorkspaceDir:     filepath.Join(dir, "workspace"),
		DataDir:          filepath.Join(dir, "data"),
		EmbeddingModel:   "text-embedding-nomic-embed-text-v1.5",
		EmbeddingDims:    384,
		EmbeddingBaseURL: "http://127.0.0.1:1/v1",
		LMModel:          "local-model",
		LMBaseURL:        "http://127.0.0.1:1/v1",
		HealthPort:       0,
	}
}

func TestNewWiresEveryComponent(t *testing.T) {
	cfg := newTestConfig(t)
	d, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, d.Tools())
	require.NotNil(t, d.Store())
	require.NotNil(t, d.Consolidate())
	require.NoError(t, d.Close())
}

func TestNewCreatesWorkspaceScopedStoreFile(t *testing.T) {
	cfg := newTestConfig(t)
	d, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer d.Close()

	path, err := cfg.StorePath()
	require.NoError(t, err)
	require.FileExists(t, path)
}
