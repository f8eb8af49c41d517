package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("http:\n  port: 9999\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_SearchPath(t *testing.T) {
	dir := t.TempDir()
	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	_, err := FindConfig("")
	if err == nil {
		t.Fatal("FindConfig(\"\") with no config files should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("http:\n  port: 8080\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("inference:\n  host: ${FORGE_TEST_HOST}\n"), 0600)
	os.Setenv("FORGE_TEST_HOST", "http://gpu-box:11434")
	defer os.Unsetenv("FORGE_TEST_HOST")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Inference.Host != "http://gpu-box:11434" {
		t.Errorf("host = %q, want %q", cfg.Inference.Host, "http://gpu-box:11434")
	}
}

func TestLoad_AppliesOverTheDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("worker:\n  pool_size: 16\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Worker.PoolSize != 16 {
		t.Errorf("PoolSize = %d, want 16", cfg.Worker.PoolSize)
	}
	if cfg.HTTP.Port != 8080 {
		t.Errorf("Port = %d, want default 8080 (unset by the file)", cfg.HTTP.Port)
	}
}

func TestApplyEnvOverridesRecognisedVars(t *testing.T) {
	cfg := Default()
	os.Setenv("INFERENCE_HOST", "http://remote:11434")
	os.Setenv("HTTP_HOST", "127.0.0.1")
	os.Setenv("HTTP_PORT", "9090")
	os.Setenv("LOG_LEVEL", "debug")
	defer func() {
		os.Unsetenv("INFERENCE_HOST")
		os.Unsetenv("HTTP_HOST")
		os.Unsetenv("HTTP_PORT")
		os.Unsetenv("LOG_LEVEL")
	}()

	cfg.ApplyEnv()

	if cfg.Inference.Host != "http://remote:11434" {
		t.Errorf("Inference.Host = %q", cfg.Inference.Host)
	}
	if cfg.HTTP.Host != "127.0.0.1" {
		t.Errorf("HTTP.Host = %q", cfg.HTTP.Host)
	}
	if cfg.HTTP.Port != 9090 {
		t.Errorf("HTTP.Port = %d", cfg.HTTP.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestApplyEnvLeavesDefaultsWhenUnset(t *testing.T) {
	cfg := Default()
	cfg.ApplyEnv()
	if cfg.HTTP.Port != 8080 {
		t.Errorf("HTTP.Port = %d, want unchanged default 8080", cfg.HTTP.Port)
	}
}
