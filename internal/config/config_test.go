package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "steward.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
llm:
  provider: openai
  api_key: test-key
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.APIKey != "test-key" {
		t.Errorf("LLM = %+v", cfg.LLM)
	}
	if cfg.Chat.WindowSize != 50 || cfg.Chat.MaxIterations != 12 {
		t.Errorf("Chat = %+v", cfg.Chat)
	}
	if cfg.Approval.TTL != 15*time.Minute || cfg.Approval.RetentionGrace != time.Hour {
		t.Errorf("Approval = %+v", cfg.Approval)
	}
	if cfg.Storage.Driver != "memory" {
		t.Errorf("Storage.Driver = %q, want memory", cfg.Storage.Driver)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("STEWARD_TEST_KEY", "sk-from-env")

	path := writeConfig(t, `
llm:
  api_key: ${STEWARD_TEST_KEY}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.APIKey != "sk-from-env" {
		t.Errorf("APIKey = %q, want value from environment", cfg.LLM.APIKey)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "unknown provider",
			content: `
llm:
  provider: cohere
`,
		},
		{
			name: "sqlite without path",
			content: `
storage:
  driver: sqlite
`,
		},
		{
			name: "unknown storage driver",
			content: `
storage:
  driver: postgres
`,
		},
		{
			name: "negative max iterations",
			content: `
chat:
  max_iterations: -1
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			if _, err := Load(path); err == nil {
				t.Error("Load succeeded, want validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load succeeded for missing file")
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}
