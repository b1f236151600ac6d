package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const DefaultControllerURL = "http://localhost:8090"

type CLIConfig struct {
	ControllerURL string `yaml:"controller_url"`
	Token         string `yaml:"token,omitempty"`

	// Insecure skips certificate verification for self-signed controllers.
	Insecure bool `yaml:"insecure,omitempty"`
}

func cliConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".farmctl.yaml"), nil
}

func LoadCLIConfig() (*CLIConfig, error) {
	configPath, err := cliConfigPath()
	if err != nil {
		return nil, err
	}

	f, err := os.Open(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &CLIConfig{ControllerURL: DefaultControllerURL}, nil
		}
		return nil, err
	}
	defer f.Close()

	var cfg CLIConfig
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}
	if cfg.ControllerURL == "" {
		cfg.ControllerURL = DefaultControllerURL
	}
	return &cfg, nil
}

func SaveCLIConfig(cfg *CLIConfig) error {
	configPath, err := cliConfigPath()
	if err != nil {
		return err
	}

	f, err := os.Create(configPath)
	if err != nil {
		return err
	}
	defer f.Close()

	return yaml.NewEncoder(f).Encode(cfg)
}
