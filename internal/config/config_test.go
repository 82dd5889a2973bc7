package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
url = "https://repo.example.com/libs"
workers = 6
chunk_size = 8388608
validate = false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	require.NotNil(t, cfg.URL)
	assert.Equal(t, "https://repo.example.com/libs", *cfg.URL)
	require.NotNil(t, cfg.Workers)
	assert.Equal(t, 6, *cfg.Workers)
	require.NotNil(t, cfg.ChunkSize)
	assert.Equal(t, int64(8*1024*1024), *cfg.ChunkSize)
	require.NotNil(t, cfg.Validate)
	assert.False(t, *cfg.Validate)

	// Unset fields stay nil so flag defaults win.
	assert.Nil(t, cfg.Retries)
	assert.Nil(t, cfg.Username)
}

func TestLoadFileMissing(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Nil(t, cfg.Workers)
}

func TestLoadFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("workers = [not toml"), 0644))

	_, err := LoadFile(path)
	assert.Error(t, err)
}
