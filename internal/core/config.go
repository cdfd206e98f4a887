package core

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type AuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	QueueKey string `yaml:"queueKey"`
}

type DeployConfig struct {
	Command        []string `yaml:"command"`
	TimeoutSeconds int      `yaml:"timeoutSeconds"`
}

type ServiceConfig struct {
	Port       int          `yaml:"port"`
	LocalMode  bool         `yaml:"localMode"`
	ContentDir string       `yaml:"contentDir"`
	ImageDir   string       `yaml:"imageDir"`
	Auth       AuthConfig   `yaml:"auth"`
	Redis      RedisConfig  `yaml:"redis"`
	Deploy     DeployConfig `yaml:"deploy"`
}

const (
	defaultQueueKey             = "followup_queue"
	defaultDeployTimeoutSeconds = 300
)

// LoadConfig loads configuration from the specified YAML file
func LoadConfig(configPath string) (*ServiceConfig, error) {
	// Read the config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	// Parse YAML
	var config ServiceConfig
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func applyDefaults(config *ServiceConfig) {
	if config.Redis.QueueKey == "" {
		config.Redis.QueueKey = defaultQueueKey
	}
	if config.Deploy.TimeoutSeconds <= 0 {
		config.Deploy.TimeoutSeconds = defaultDeployTimeoutSeconds
	}
}

func validateConfig(config *ServiceConfig) error {
	if config.Port <= 0 {
		return fmt.Errorf("port must be positive, got %d", config.Port)
	}
	if config.ContentDir == "" {
		return fmt.Errorf("contentDir is required")
	}
	if config.ImageDir == "" {
		return fmt.Errorf("imageDir is required")
	}
	// Outside trusted local mode every route is credential-gated, so the
	// pair must be present.
	if !config.LocalMode && (config.Auth.Username == "" || config.Auth.Password == "") {
		return fmt.Errorf("auth.username and auth.password are required unless localMode is set")
	}
	return nil
}
