package authclient

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// LoadConfig reads a YAML file over DefaultConfig and validates the result.
// Keys mirror the koanf struct tags, e.g.:
//
//	deployment:
//	  environment: production
//	  canonical_origin: https://app.example.com
//	rate_limit:
//	  sign_in: {max_attempts: 5, window: 15m}
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return ConfigFromKoanf(k)
}

// ConfigFromKoanf unmarshals k over DefaultConfig and validates the result.
// Callers that layer flags or environment on top of a file use this directly.
func ConfigFromKoanf(k *koanf.Koanf) (Config, error) {
	cfg := defaultConfig()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
