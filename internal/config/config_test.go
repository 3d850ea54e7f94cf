package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
server:
  port: "9090"
database:
  redis:
    addr: "redis:6379"
llm:
  api_key: "from-file"
  model: "gpt-test"
chat:
  history_limit: 4
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadReadsYAMLAndDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %q", cfg.Server.Port)
	}
	if cfg.Database.Redis.Addr != "redis:6379" {
		t.Errorf("unexpected redis addr %q", cfg.Database.Redis.Addr)
	}
	if cfg.Chat.HistoryLimit != 4 {
		t.Errorf("expected history limit 4, got %d", cfg.Chat.HistoryLimit)
	}
	if cfg.Chat.PresenceTTLSeconds != 3600 {
		t.Errorf("expected default presence ttl 3600, got %d", cfg.Chat.PresenceTTLSeconds)
	}
	if cfg.Chat.FallbackReply == "" {
		t.Error("expected default fallback reply")
	}
	if cfg.LLM.Generation.MaxTokens != 500 {
		t.Errorf("expected default generation max tokens 500, got %d", cfg.LLM.Generation.MaxTokens)
	}
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("LLM_API_KEY", "from-env")
	t.Setenv("CHAT_HISTORY_LIMIT", "12")

	cfg, err := Load(writeConfig(t))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.LLM.APIKey != "from-env" {
		t.Errorf("expected env api key, got %q", cfg.LLM.APIKey)
	}
	if cfg.Chat.HistoryLimit != 12 {
		t.Errorf("expected env history limit 12, got %d", cfg.Chat.HistoryLimit)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
