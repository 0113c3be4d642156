package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the keys the server's config loader reads.
type fileConfig struct {
	Video struct {
		APIKey    string `yaml:"api_key"`
		APISecret string `yaml:"api_secret"`
	} `yaml:"video"`
	Voice struct {
		APIKey            string `yaml:"api_key"`
		APISecret         string `yaml:"api_secret"`
		AppID             string `yaml:"app_id"`
		AppName           string `yaml:"app_name"`
		PrivateKeyPath    string `yaml:"private_key_path"`
		ConferenceNumber  string `yaml:"conference_number"`
		ConferenceCountry string `yaml:"conference_country"`
	} `yaml:"voice"`
}

// writeConfig writes fc to path, or to config-<appName>.yaml next to it when
// path already holds a non-empty file. It returns the path written.
func writeConfig(path, appName string, fc fileConfig) (string, error) {
	if st, err := os.Stat(path); err == nil && st.Size() > 0 {
		path = filepath.Join(filepath.Dir(path), fmt.Sprintf("config-%s.yaml", appName))
		if st, err := os.Stat(path); err == nil && st.Size() > 0 {
			return "", fmt.Errorf("refusing to overwrite %s", path)
		}
	}
	b, err := yaml.Marshal(fc)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}
	return path, nil
}
