// Copyright (c) 2025 A Bit of Help, Inc.

// Package config loads the sealpipe configuration file.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/abitofhelp/sealed_container_pipeline/pkg/logger"
	"github.com/abitofhelp/sealed_container_pipeline/pkg/pipeline/options"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config represents the sealpipe configuration
type Config struct {
	Pipeline Pipeline `yaml:"pipeline"`
	Keys     Keys     `yaml:"keys"`
	Schemas  Schemas  `yaml:"schemas"`
	Logging  Logging  `yaml:"logging"`
}

// Pipeline selects the stages and worker settings used by encode and decode
type Pipeline struct {
	Serializer         string `yaml:"serializer"`
	Compression        string `yaml:"compression"`
	Level              int    `yaml:"level"`
	Seal               string `yaml:"seal"`
	KeyID              string `yaml:"key_id"`
	ChunkSize          int    `yaml:"chunk_size"`
	Workers            int    `yaml:"workers"`
	ChannelBuffer      int    `yaml:"channel_buffer"`
	SkipIncompressible bool   `yaml:"skip_incompressible"`
	RequireSeal        bool   `yaml:"require_seal"`
}

// Keys locates the age-encrypted keyring and the identity that opens it.
// Key material itself never appears in the configuration. Peers maps a key id to a
// peer's hex X25519 public key; that id resolves to the key agreed with the peer.
type Keys struct {
	Keyring  string            `yaml:"keyring"`
	Identity string            `yaml:"identity"`
	Peers    map[string]string `yaml:"peers,omitempty"`
}

// PeerKey decodes the hex public key of one peer entry.
func PeerKey(id, value string) ([]byte, error) {
	pub, err := hex.DecodeString(value)
	if err != nil || len(pub) != peerKeySize {
		return nil, fmt.Errorf("keys.peers.%s: want %d hex-encoded bytes", id, peerKeySize)
	}
	return pub, nil
}

const peerKeySize = 32

// Schemas lists YAML schema definition files loaded next to the builtin schemas
type Schemas struct {
	Files []string `yaml:"files,omitempty"`
}

// Logging contains logging configuration
type Logging struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Pipeline: Pipeline{
			Serializer:    options.DefaultSerializer,
			Compression:   "zstd",
			Seal:          options.None,
			ChunkSize:     options.DefaultChunkSize,
			Workers:       options.DefaultCompressorCount,
			ChannelBuffer: options.DefaultChannelBufferSize,
		},
		Logging: Logging{
			Level: logger.DefaultLevel,
		},
	}
}

// LoadConfig loads configuration from the specified path. Settings missing from the
// file keep their defaults.
func LoadConfig(configPath string) (*Config, error) {
	if !filepath.IsAbs(configPath) {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("invalid config path: %w", err)
		}
		configPath = absPath
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Relative paths inside the file are relative to the file
	dir := filepath.Dir(configPath)
	config.Keys.Keyring = resolve(dir, config.Keys.Keyring)
	config.Keys.Identity = resolve(dir, config.Keys.Identity)
	for i, f := range config.Schemas.Files {
		config.Schemas.Files[i] = resolve(dir, f)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func resolve(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// SaveConfig saves the configuration to the specified path with secure permissions
func SaveConfig(config *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks values that can be checked without a registry. Algorithm names are
// checked when the pipeline resolves them.
func (c *Config) Validate() error {
	if c.Logging.Level != "" {
		if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
			return fmt.Errorf("logging.level: %w", err)
		}
	}
	if (c.Keys.Keyring == "") != (c.Keys.Identity == "") {
		return fmt.Errorf("keys: keyring and identity must be set together")
	}
	if len(c.Keys.Peers) > 0 && c.Keys.Keyring == "" {
		return fmt.Errorf("keys: peers need a keyring holding the agreement key")
	}
	for id, value := range c.Keys.Peers {
		if _, err := PeerKey(id, value); err != nil {
			return err
		}
	}
	if err := c.Options().Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	return nil
}

// Options converts the pipeline section to pipeline options. The key is left empty;
// it comes from the keyring at call time.
func (c *Config) Options() *options.PipelineOptions {
	p := c.Pipeline
	return &options.PipelineOptions{
		Serializer:         p.Serializer,
		Compression:        p.Compression,
		Level:              p.Level,
		Seal:               p.Seal,
		KeyID:              p.KeyID,
		SkipIncompressible: p.SkipIncompressible,
		RequireSeal:        p.RequireSeal,
		ChunkSize:          p.ChunkSize,
		ChannelBufferSize:  p.ChannelBuffer,
		CompressorCount:    p.Workers,
	}
}
