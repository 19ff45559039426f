// Package config loads daemon configuration from CLI flags and environment
// variables, the way the teacher's daemon entrypoint layers cobra flags
// over env var defaults.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"
)

// Config is the fully-resolved daemon configuration: flags override
// environment variables, which override these defaults.
type Config struct {
	WorkspaceDir    string
	DemoMode        bool
	EmbeddingModel  string
	EmbeddingDims   int
	EmbeddingBaseURL string
	LMModel         string
	LMBaseURL       string
	LMAPIKey        string
	HealthPort      int
	DataDir         string // parent of the memory/<workspace-hash> and demo store directories
}

const defaultHealthPort = 3848
const defaultEmbeddingDims = 384

// FromEnv builds a Config from environment variables and defaults, the
// base layer flags are applied on top of in cmd/memcored.
func FromEnv() Config {
	c := Config{
		WorkspaceDir:     os.Getenv("WORKSPACE_DIR"),
		DemoMode:         os.Getenv("DEMO_MODE") == "1",
		EmbeddingModel:   envOr("EMBEDDING_MODEL", "text-embedding-nomic-embed-text-v1.5"),
		EmbeddingDims:    defaultEmbeddingDims,
		EmbeddingBaseURL: envOr("EMBEDDING_BASE_URL", "http://127.0.0.1:1234/v1"),
		LMModel:          envOr("LM_MODEL", "local-model"),
		LMBaseURL:        envOr("LM_BASE_URL", "http://127.0.0.1:1234/v1"),
		LMAPIKey:         os.Getenv("LM_API_KEY"),
		HealthPort:       defaultHealthPort,
	}
	if v := os.Getenv("HEALTH_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.HealthPort = n
		}
	}
	return c
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// WorkspaceHash is the first 16 hex chars of SHA-256(absolute workspace
// path), used to name the per-workspace store file per spec §6.
func WorkspaceHash(workspaceDir string) (string, error) {
	abs, err := filepath.Abs(workspaceDir)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:])[:16], nil
}

// StorePath resolves the SQLite database file path for this configuration:
// <DataDir>/demo/store.db in demo mode, otherwise
// <DataDir>/memory/<workspace-hash>/store.db.
func (c Config) StorePath() (string, error) {
	if c.DemoMode {
		dir := filepath.Join(c.DataDir, "demo")
		return filepath.Join(dir, "store.db"), nil
	}
	hash, err := WorkspaceHash(c.WorkspaceDir)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(c.DataDir, "memory", hash)
	return filepath.Join(dir, "store.db"), nil
}

// EnsureStoreDir creates the parent directory of the resolved store path.
func (c Config) EnsureStoreDir() (string, error) {
	path, err := c.StorePath()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	return path, nil
}
