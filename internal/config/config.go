// Package config handles orchestration-engine configuration: defaults,
// then the YAML file (with environment variable expansion), then
// environment variable overrides, in that increasing order of
// precedence. cmd/forge has no CLI flags that override these values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order: ./config.yaml,
// ~/.config/forge/config.yaml, /etc/forge/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "forge", "config.yaml"))
	}
	paths = append(paths, "/etc/forge/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must
// exist. Otherwise, searches DefaultSearchPaths and returns the first
// that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}
	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all orchestration-engine configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Inference InferenceConfig `yaml:"inference"`
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
	Worker    WorkerConfig    `yaml:"worker"`
}

// HTTPConfig defines the HTTP front-end's bind address.
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// InferenceConfig defines how the engine reaches the local
// model-serving endpoint and which model each task class prefers.
type InferenceConfig struct {
	Host      string            `yaml:"host"`
	Preferred map[string]string `yaml:"preferred"` // task class -> model name
	Fallback  []string          `yaml:"fallback"`
}

// WorkerConfig defines the orchestrator's bounded worker pool and
// per-workflow deadline.
type WorkerConfig struct {
	PoolSize               int `yaml:"pool_size"`
	WorkflowTimeoutSeconds int `yaml:"workflow_timeout_seconds"`
}

// Load reads configuration from a YAML file, expanding ${VAR} /
// $VAR references against the process environment before parsing —
// this is how secrets (e.g. an inference API key) are kept out of the
// file itself.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the engine's default configuration.
func Default() *Config {
	return &Config{
		HTTP:      HTTPConfig{Host: "0.0.0.0", Port: 8080},
		Inference: InferenceConfig{Host: "http://localhost:11434"},
		DataDir:   "./data",
		LogLevel:  "info",
		Worker:    WorkerConfig{PoolSize: 4, WorkflowTimeoutSeconds: 600},
	}
}

// ApplyEnv overrides cfg's fields with recognised environment
// variables: INFERENCE_HOST, HTTP_HOST, HTTP_PORT, LOG_LEVEL. Env vars
// rank above the config file and the defaults; nothing in cmd/forge
// overrides them after this call.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("INFERENCE_HOST"); v != "" {
		c.Inference.Host = v
	}
	if v := os.Getenv("HTTP_HOST"); v != "" {
		c.HTTP.Host = v
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		if n, err := parsePort(v); err == nil {
			c.HTTP.Port = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func parsePort(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
