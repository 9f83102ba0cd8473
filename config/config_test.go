package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	t.Setenv("ACP_ADAPTER", "")
	t.Setenv("OLLAMA_HOST", "")
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.AdapterCmd() != DefaultAdapterCommand {
		t.Fatalf("got adapter %q", cfg.AdapterCmd())
	}
	wd, _ := os.Getwd()
	if cfg.DefaultWorkspace() != filepath.Join(wd, "workspace") {
		t.Fatalf("got workspace %q", cfg.DefaultWorkspace())
	}
	if len(cfg.FilesystemAccess.Hidden) == 0 {
		t.Fatal("own state directories should be hidden by default")
	}
}

func TestProjectConfigOverridesUser(t *testing.T) {
	home := t.TempDir()
	project := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("ACP_ADAPTER", "")
	t.Setenv("OLLAMA_HOST", "")
	t.Chdir(project)

	writeConfig(t, home, "llm: openai\nmodel: gpt-4o\n")
	writeConfig(t, project, "model: phi3\n")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.LLMClient != "openai" {
		t.Fatalf("user-level field lost: %q", cfg.LLMClient)
	}
	if cfg.Model != "phi3" {
		t.Fatalf("project-level override lost: %q", cfg.Model)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	t.Setenv("ACP_ADAPTER", "my-adapter --stdio")
	t.Setenv("OLLAMA_HOST", "http://10.0.0.5:11434")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.AdapterCmd() != "my-adapter --stdio" {
		t.Fatalf("got adapter %q", cfg.AdapterCmd())
	}
	if cfg.OllamaHost != "http://10.0.0.5:11434" {
		t.Fatalf("got ollama host %q", cfg.OllamaHost)
	}
}

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	cfgDir := filepath.Join(dir, ".acpbridge")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
