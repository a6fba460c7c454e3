package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30m" parse directly.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Accountability tunes the prank escalation ladder.
type Accountability struct {
	SuspendThreshold int   `yaml:"suspendThreshold" validate:"min=1"`
	BanThreshold     int   `yaml:"banThreshold" validate:"min=1"`
	FineCents        int64 `yaml:"fineCents" validate:"min=1"`
}

// Config represents the application configuration.
type Config struct {
	DatabaseURL    string         `yaml:"databaseURL" validate:"required"`
	RedisAddr      string         `yaml:"redisAddr,omitempty"`
	JWTSecret      string         `yaml:"jwtSecret" validate:"required,min=16"`
	Environment    string         `yaml:"environment,omitempty" validate:"omitempty,oneof=development staging production"`
	ZoneCacheTTL   Duration       `yaml:"zoneCacheTTL,omitempty"`
	Accountability Accountability `yaml:"accountability,omitempty"`
}

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Load loads and validates the configuration from dispatch_config.yaml.
// It looks for the config file in the current directory first, then in the
// user's home directory.
func Load() (*Config, error) {
	configPath, err := findConfigFile()
	if err != nil {
		return nil, fmt.Errorf("failed to find config file: %w", err)
	}

	return LoadFromPath(configPath)
}

// LoadFromPath loads and validates the configuration from a specific path.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Config{
		Environment: "development",
		Accountability: Accountability{
			SuspendThreshold: 3,
			BanThreshold:     5,
			FineCents:        50000,
		},
		ZoneCacheTTL: Duration(24 * time.Hour),
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate validates the configuration struct and the threshold ordering.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if cfg.Accountability.BanThreshold < cfg.Accountability.SuspendThreshold {
		return fmt.Errorf("config validation failed: banThreshold (%d) must be >= suspendThreshold (%d)",
			cfg.Accountability.BanThreshold, cfg.Accountability.SuspendThreshold)
	}

	return nil
}

// findConfigFile searches for dispatch_config.yaml in the current directory
// and the home directory.
func findConfigFile() (string, error) {
	configFileName := "dispatch_config.yaml"

	if _, err := os.Stat(configFileName); err == nil {
		return configFileName, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	homeConfigPath := filepath.Join(homeDir, configFileName)
	if _, err := os.Stat(homeConfigPath); err == nil {
		return homeConfigPath, nil
	}

	return "", fmt.Errorf("config file not found in current directory or home directory")
}
