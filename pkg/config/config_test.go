// Copyright (c) 2025 A Bit of Help, Inc.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/abitofhelp/sealed_container_pipeline/pkg/pipeline/options"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, options.DefaultSerializer, config.Pipeline.Serializer)
	assert.Equal(t, "zstd", config.Pipeline.Compression)
	assert.Equal(t, options.None, config.Pipeline.Seal)
	assert.Equal(t, options.DefaultChunkSize, config.Pipeline.ChunkSize)
	assert.Equal(t, "info", config.Logging.Level)
	assert.NoError(t, config.Validate())
}

func TestLoadConfig(t *testing.T) {
	t.Run("partial file keeps defaults", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "sealpipe.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
pipeline:
  compression: lz4
  seal: hmac
  key_id: logs
keys:
  keyring: keys/ring.age
  identity: /etc/sealpipe/identity.txt
schemas:
  files: [schemas.yaml]
logging:
  level: debug
`), 0600))

		config, err := LoadConfig(path)
		require.NoError(t, err)

		assert.Equal(t, "lz4", config.Pipeline.Compression)
		assert.Equal(t, "hmac", config.Pipeline.Seal)
		assert.Equal(t, options.DefaultSerializer, config.Pipeline.Serializer)
		assert.Equal(t, options.DefaultCompressorCount, config.Pipeline.Workers)
		assert.Equal(t, filepath.Join(dir, "keys", "ring.age"), config.Keys.Keyring)
		assert.Equal(t, "/etc/sealpipe/identity.txt", config.Keys.Identity)
		assert.Equal(t, []string{filepath.Join(dir, "schemas.yaml")}, config.Schemas.Files)
		assert.Equal(t, "debug", config.Logging.Level)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("pipeline: [unclosed"), 0600))
		_, err := LoadConfig(path)
		assert.ErrorContains(t, err, "failed to parse config file")
	})

	t.Run("invalid values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  chunk_size: -5\n"), 0600))
		_, err := LoadConfig(path)
		assert.ErrorContains(t, err, "pipeline")
	})
}

func TestSaveConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sealpipe.yaml")
	config := DefaultConfig()
	config.Pipeline.Seal = "aes-gcm"
	config.Keys = Keys{Keyring: "/k/ring.age", Identity: "/k/id.txt"}

	require.NoError(t, SaveConfig(config, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, config, loaded)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, false},
		{"keyring without identity", func(c *Config) { c.Keys.Keyring = "ring.age" }, false},
		{"peer without keyring", func(c *Config) { c.Keys.Peers = map[string]string{"pair": strings.Repeat("ab", 32)} }, false},
		{"peer with keyring", func(c *Config) {
			c.Keys = Keys{Keyring: "ring.age", Identity: "id.txt", Peers: map[string]string{"pair": strings.Repeat("ab", 32)}}
		}, true},
		{"malformed peer key", func(c *Config) {
			c.Keys = Keys{Keyring: "ring.age", Identity: "id.txt", Peers: map[string]string{"pair": "abcd"}}
		}, false},
		{"negative workers", func(c *Config) { c.Pipeline.Workers = -1 }, false},
		{"chunk size too large", func(c *Config) { c.Pipeline.ChunkSize = options.MaxChunkSize + 1 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestOptions(t *testing.T) {
	config := DefaultConfig()
	config.Pipeline.Seal = "blake3"
	config.Pipeline.KeyID = "k"
	config.Pipeline.RequireSeal = true

	opts := config.Options()
	assert.Equal(t, "blake3", opts.Seal)
	assert.Equal(t, "k", opts.KeyID)
	assert.True(t, opts.RequireSeal)
	assert.Equal(t, options.DefaultCompressorCount, opts.CompressorCount)
	assert.Empty(t, opts.Key)
}
