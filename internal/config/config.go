// Package config loads gateway configuration from an optional YAML
// file overlaid with LUMARA_-prefixed environment variables. Secrets
// (vault key, token secret, project API keys) are env-only in
// production and never logged.
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server ServerConfig `koanf:"server"`
	Redis  RedisConfig  `koanf:"redis"`
	Audit  AuditConfig  `koanf:"audit"`
	Vault  VaultConfig  `koanf:"vault"`
	Auth   AuthConfig   `koanf:"auth"`
	Keys   KeysConfig   `koanf:"keys"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type RedisConfig struct {
	URL string `koanf:"url"`
}

type AuditConfig struct {
	Path string `koanf:"path"`
}

type VaultConfig struct {
	// Key is the 64-character hex encryption key for stored credentials.
	Key string `koanf:"key"`
}

type AuthConfig struct {
	// Secret signs and verifies identity tokens.
	Secret string `koanf:"secret"`
	// Unlock is the throttle unlock password. Empty disables unlocking.
	Unlock string `koanf:"unlock"`
}

// KeysConfig holds the gateway's own provider API keys, used for
// identities configured with useProjectKey.
type KeysConfig struct {
	Groq   string `koanf:"groq"`
	Gemini string `koanf:"gemini"`
}

// Map returns the project keys keyed by provider id.
func (k KeysConfig) Map() map[string]string {
	return map[string]string{
		"groq":   k.Groq,
		"gemini": k.Gemini,
	}
}

// Load reads configuration. path names a YAML file and may be empty;
// environment variables always win over the file.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("LUMARA_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "LUMARA_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	// Default values
	if !k.Exists("server.port") {
		k.Set("server.port", 8080)
	}
	if !k.Exists("redis.url") {
		k.Set("redis.url", "redis://localhost:6379/0")
	}
	if !k.Exists("audit.path") {
		k.Set("audit.path", "lumara-audit.db")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if cfg.Vault.Key == "" {
		return nil, fmt.Errorf("vault key is required (LUMARA_VAULT_KEY)")
	}
	if cfg.Auth.Secret == "" {
		return nil, fmt.Errorf("auth secret is required (LUMARA_AUTH_SECRET)")
	}

	return &cfg, nil
}
