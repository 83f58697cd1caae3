package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config represents the runtime configuration from dispatchd.yaml.
type Config struct {
	Listen   string         `yaml:"listen"`
	LogLevel string         `yaml:"log_level"`
	Groups   GroupsConfig   `yaml:"groups"`
	Registry RegistryConfig `yaml:"registry"`
	Nvidia   NvidiaConfig   `yaml:"nvidia"`
}

// GroupsConfig defines where group memberships come from.
type GroupsConfig struct {
	File  string `yaml:"file"`
	Watch bool   `yaml:"watch"`
	DB    string `yaml:"db"` // bbolt overlay for runtime edits; empty disables persistence
}

// RegistryConfig defines command registration behavior.
type RegistryConfig struct {
	AllowOverwrite bool `yaml:"allow_overwrite"`
}

// NvidiaConfig holds settings for the nvidia commands.
type NvidiaConfig struct {
	DriverRepo   string    `yaml:"driver_repo"`
	GitHubToken  string    `yaml:"github_token"`
	AllowedHosts []string  `yaml:"allowed_hosts"` // empty permits all hosts
	SSH          SSHConfig `yaml:"ssh"`
}

// SSHConfig holds credentials for remote driver installation.
type SSHConfig struct {
	User           string `yaml:"user"`
	KeyFile        string `yaml:"key_file"`
	KnownHostsFile string `yaml:"known_hosts_file"`
}

// envOverrides maps environment variables onto config fields. Only set
// variables override the file values.
type envOverrides struct {
	Listen       string `env:"DISPATCHD_LISTEN"`
	LogLevel     string `env:"DISPATCHD_LOG_LEVEL"`
	GroupsFile   string `env:"DISPATCHD_GROUPS_FILE"`
	MembershipDB string `env:"DISPATCHD_MEMBERSHIP_DB"`
	GitHubToken  string `env:"DISPATCHD_GITHUB_TOKEN"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Listen:   ":8000",
		LogLevel: "info",
		Groups: GroupsConfig{
			File:  "groups.yaml",
			Watch: true,
		},
		Nvidia: NvidiaConfig{
			DriverRepo: "NVIDIA/open-gpu-kernel-modules",
			SSH: SSHConfig{
				User: "root",
			},
		},
	}
}

// Load reads and parses the config YAML file, interpolating ${VAR_NAME}
// references before parsing and applying environment overrides after.
// Returns the defaults if the file doesn't exist.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return applyEnvOverrides(cfg)
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	interpolated := interpolateEnvVars(string(data))

	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	return applyEnvOverrides(cfg)
}

// applyEnvOverrides lets DISPATCHD_* variables win over file values.
func applyEnvOverrides(cfg Config) (Config, error) {
	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	if ov.Listen != "" {
		cfg.Listen = ov.Listen
	}
	if ov.LogLevel != "" {
		cfg.LogLevel = ov.LogLevel
	}
	if ov.GroupsFile != "" {
		cfg.Groups.File = ov.GroupsFile
	}
	if ov.MembershipDB != "" {
		cfg.Groups.DB = ov.MembershipDB
	}
	if ov.GitHubToken != "" {
		cfg.Nvidia.GitHubToken = ov.GitHubToken
	}
	return cfg, nil
}

// envVarPattern matches ${VAR_NAME} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// interpolateEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func interpolateEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match // Leave unresolved if not set.
	})
}
