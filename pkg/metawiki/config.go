package metawiki

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads a connection profile from a YAML file. Environment
// variables METAWIKI_USERNAME and METAWIKI_PASSWORD override the file so
// credentials can stay out of checked-in profiles.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read service profile %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse service profile %s: %w", path, err)
	}

	if v := os.Getenv("METAWIKI_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv("METAWIKI_PASSWORD"); v != "" {
		cfg.Password = v
	}

	if cfg.BaseURL == "" {
		return Config{}, fmt.Errorf("service profile %s: base_url is required", path)
	}
	return cfg, nil
}
