package config

import (
	"os"
	"path/filepath"
	"testing"

	"text-pipeline/internal/auth"
	xerrors "text-pipeline/internal/errors"
	"text-pipeline/internal/llm"
)

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.Model != llm.DefaultModel || cfg.LLM.Temperature != llm.DefaultTemperature || cfg.LLM.MaxTokens != llm.DefaultMaxTokens {
		t.Fatalf("unexpected llm defaults: %+v", cfg.LLM)
	}
	if cfg.LLM.Mock.DelayMillis != 100 || cfg.LLM.Mock.MaxConcurrent != 3 {
		t.Fatalf("unexpected mock defaults: %+v", cfg.LLM.Mock)
	}
	if cfg.Pipeline.Mode != "parallel" || cfg.Storage.Driver != "memory" || cfg.Queue.Driver != "memory" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "textpipeline.yaml")
	content := `
llm:
  provider: Mock
  mock:
    delay_ms: 5
pipeline:
  mode: serial
storage:
  driver: sqlite
logging:
  output_paths: ["stdout", "logs/app.log"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LLM.Provider != ProviderMock || cfg.LLM.Mock.DelayMillis != 5 {
		t.Fatalf("unexpected llm config: %+v", cfg.LLM)
	}
	if cfg.Pipeline.Mode != "serial" {
		t.Fatalf("unexpected mode: %s", cfg.Pipeline.Mode)
	}
	if cfg.Storage.DSN != filepath.Join(dir, "data", "analyses.db") {
		t.Fatalf("sqlite dsn should default next to the config file: %s", cfg.Storage.DSN)
	}
	if cfg.Logging.OutputPaths[0] != "stdout" || cfg.Logging.OutputPaths[1] != filepath.Join(dir, "logs", "app.log") {
		t.Fatalf("unexpected output paths: %v", cfg.Logging.OutputPaths)
	}
}

func TestLoadJSONRejectsUnknownProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	if err := os.WriteFile(path, []byte(`{"llm":{"provider":"bard"}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := Load(path)
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestValidateCacheNeedsRedis(t *testing.T) {
	cfg := Default()
	cfg.LLM.Cache.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error when cache is enabled without redis")
	}
	cfg.Redis.Address = "localhost:6379"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("TEST_TEXTPIPELINE_KEY", " sk-env ")
	cfg := LLMConfig{APIKeyEnv: "TEST_TEXTPIPELINE_KEY"}
	key, err := cfg.ResolveAPIKey()
	if err != nil || key != "sk-env" {
		t.Fatalf("unexpected key %q err %v", key, err)
	}

	cfg.APIKey = "sk-explicit"
	if key, _ := cfg.ResolveAPIKey(); key != "sk-explicit" {
		t.Fatalf("explicit key should win, got %q", key)
	}

	t.Setenv("TEST_TEXTPIPELINE_KEY", "")
	_, err = LLMConfig{APIKeyEnv: "TEST_TEXTPIPELINE_KEY"}.ResolveAPIKey()
	if xerrors.CodeOf(err) != xerrors.CodeMissingCredential {
		t.Fatalf("expected missing credential error, got %v", err)
	}
}

func TestServerAuthConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.yaml")
	content := `
server:
  auth:
    mode: Token
    tokens:
      - name: ci
        token_env: TEXTPIPELINE_CI_TOKEN
        permissions: ["analyses:read", "analyses:write"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Auth.Mode != auth.ModeToken || len(cfg.Server.Auth.Tokens) != 1 || cfg.Server.Auth.Tokens[0].TokenEnv != "TEXTPIPELINE_CI_TOKEN" {
		t.Fatalf("unexpected auth config: %+v", cfg.Server.Auth)
	}
	if Default().Server.Auth.Mode != auth.ModeDisabled {
		t.Fatalf("auth should be disabled by default")
	}

	cfg.Server.Auth.Mode = "saml"
	if xerrors.CodeOf(cfg.Validate()) != xerrors.CodeInvalidArgument {
		t.Fatalf("unknown auth mode should be rejected")
	}
}
