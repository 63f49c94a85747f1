// Package vaultconfig loads the options a vault is created or opened
// with from defaults, a config file, and environment variables, in
// that order of increasing precedence.
package vaultconfig

import (
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/dittovault/pkg/cryptoprovider"
	"github.com/marmos91/dittovault/pkg/vaultmetrics"
)

// KdfLevel is one of the three named KDF cost presets spec.md enumerates.
type KdfLevel string

const (
	Interactive KdfLevel = "interactive"
	Moderate    KdfLevel = "moderate"
	Sensitive   KdfLevel = "sensitive"
)

// opsLimits and memLimits map each named level to the Argon2id
// parameters pkg/cryptoprovider.Cost expects. Values follow the
// libsodium presets the teacher's own crypto config descends from.
var opsLimits = map[KdfLevel]uint32{
	Interactive: 2,
	Moderate:    3,
	Sensitive:   4,
}

var memLimits = map[KdfLevel]uint32{
	Interactive: 64 * 1024,
	Moderate:    256 * 1024,
	Sensitive:   1024 * 1024,
}

// Config is the full set of options a vault is created or opened with.
type Config struct {
	// OpsLimit is the named Argon2id time-cost preset for password-based
	// master key wrapping.
	OpsLimit KdfLevel `mapstructure:"ops_limit" yaml:"ops_limit"`

	// MemLimit is the named Argon2id memory-cost preset.
	MemLimit KdfLevel `mapstructure:"mem_limit" yaml:"mem_limit"`

	// Cipher selects the AEAD used for frame and address encryption.
	// Empty means: default to Aes if hardware acceleration is detected,
	// else Xchacha.
	Cipher string `mapstructure:"cipher" yaml:"cipher"`

	// Compress enables frame-level LZ4 compression before sealing.
	Compress bool `mapstructure:"compress" yaml:"compress"`

	// VersionLimit caps how many versions pkg/fnode retains per file,
	// in [1, 255].
	VersionLimit int `mapstructure:"version_limit" yaml:"version_limit"`

	// DedupChunk enables content-defined chunking and chunk sharing in
	// pkg/content. Disabling it falls back to whole-entity storage.
	DedupChunk bool `mapstructure:"dedup_chunk" yaml:"dedup_chunk"`

	// ReadOnly opens the volume without write access. Mutually
	// exclusive with creation: vault.Create refuses it with ReadOnly.
	ReadOnly bool `mapstructure:"read_only" yaml:"read_only"`

	// Metrics, if set, receives commit/handle/allocator instrumentation
	// from pkg/vault. Not file/env configurable - set it in code after
	// Load/Default returns.
	Metrics *vaultmetrics.Metrics `mapstructure:"-" yaml:"-"`
}

// Default returns the configuration used when no file, env var, or flag
// overrides a field.
func Default() *Config {
	return &Config{
		OpsLimit:     Moderate,
		MemLimit:     Moderate,
		Cipher:       "",
		Compress:     true,
		VersionLimit: 10,
		DedupChunk:   true,
		ReadOnly:     false,
	}
}

// Load reads configuration from configPath (if non-empty and present),
// then environment variables prefixed DITTOVAULT_, layered over
// Default(). Environment variables take precedence over the file.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, fmt.Errorf("vaultconfig: read config file: %w", err)
	}

	cfg := Default()
	if !found {
		bindDefaults(v, cfg)
	}

	if err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc())); err != nil {
		return nil, fmt.Errorf("vaultconfig: unmarshal: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("vaultconfig: %w", err)
	}
	return cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("DITTOVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// bindDefaults seeds viper with cfg's zero-config defaults so env vars
// still override them even when no file was found.
func bindDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("ops_limit", cfg.OpsLimit)
	v.SetDefault("mem_limit", cfg.MemLimit)
	v.SetDefault("cipher", cfg.Cipher)
	v.SetDefault("compress", cfg.Compress)
	v.SetDefault("version_limit", cfg.VersionLimit)
	v.SetDefault("dedup_chunk", cfg.DedupChunk)
	v.SetDefault("read_only", cfg.ReadOnly)
}

// Validate checks that every field is within the range spec.md
// enumerates.
func Validate(cfg *Config) error {
	if _, ok := opsLimits[cfg.OpsLimit]; !ok {
		return fmt.Errorf("ops_limit must be one of interactive, moderate, sensitive, got %q", cfg.OpsLimit)
	}
	if _, ok := memLimits[cfg.MemLimit]; !ok {
		return fmt.Errorf("mem_limit must be one of interactive, moderate, sensitive, got %q", cfg.MemLimit)
	}
	if cfg.Cipher != "" {
		if _, err := cryptoprovider.ParseCipher(cfg.Cipher); err != nil {
			return err
		}
	}
	if cfg.VersionLimit < 1 || cfg.VersionLimit > 255 {
		return fmt.Errorf("version_limit must be in [1, 255], got %d", cfg.VersionLimit)
	}
	return nil
}

// Cost returns the Argon2id cost parameters for cfg's named presets.
func (c *Config) Cost() cryptoprovider.Cost {
	return cryptoprovider.Cost{
		OpsLimit: opsLimits[c.OpsLimit],
		MemLimit: memLimits[c.MemLimit],
	}
}

// Save writes cfg to path as YAML.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("vaultconfig: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("vaultconfig: write %s: %w", path, err)
	}
	return nil
}
