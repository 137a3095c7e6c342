package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaultsRequiresChatCredential(t *testing.T) {
	t.Setenv("COHERE_API_KEY", "")
	t.Setenv("LOQA_LLM_API_KEY", "")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected startup error without chat credential")
	}
	if !strings.Contains(err.Error(), "COHERE_API_KEY") {
		t.Fatalf("expected error to name COHERE_API_KEY, got %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("COHERE_API_KEY", "co-key")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.APIKey != "co-key" {
		t.Fatalf("expected cohere key fallback, got %q", cfg.LLM.APIKey)
	}
	if cfg.STT.ModelSize != "small" || cfg.STT.Device != "cpu" || cfg.STT.ComputeType != "int8" {
		t.Fatalf("unexpected whisper defaults: %+v", cfg.STT)
	}
	if cfg.STT.BeamSize != 5 || !cfg.STT.VADFilter {
		t.Fatalf("expected beam 5 with vad, got %+v", cfg.STT)
	}
	if cfg.Relay.Language != "ar" {
		t.Fatalf("expected default language ar, got %q", cfg.Relay.Language)
	}
	if cfg.LLM.Model != "command-a-03-2025" {
		t.Fatalf("unexpected model %q", cfg.LLM.Model)
	}
	if cfg.EventStore.RetentionMode != "ephemeral" {
		t.Fatalf("expected ephemeral event store by default")
	}
}

func TestWhisperEnvOverrides(t *testing.T) {
	t.Setenv("COHERE_API_KEY", "co-key")
	t.Setenv("WHISPER_MODEL_SIZE", "large-v3")
	t.Setenv("WHISPER_DEVICE", "cuda")
	t.Setenv("WHISPER_COMPUTE_TYPE", "float16")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.STT.ModelSize != "large-v3" {
		t.Fatalf("expected model size override, got %q", cfg.STT.ModelSize)
	}
	if cfg.STT.Device != "cuda" {
		t.Fatalf("expected device override, got %q", cfg.STT.Device)
	}
	if cfg.STT.ComputeType != "float16" {
		t.Fatalf("expected compute type override, got %q", cfg.STT.ComputeType)
	}
}

func TestLoqaEnvWinsOverLegacyNames(t *testing.T) {
	t.Setenv("COHERE_API_KEY", "co-key")
	t.Setenv("WHISPER_MODEL_SIZE", "tiny")
	t.Setenv("LOQA_STT_MODEL_SIZE", "medium")
	t.Setenv("LOQA_LLM_API_KEY", "explicit")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.STT.ModelSize != "medium" {
		t.Fatalf("expected LOQA_STT_MODEL_SIZE to win, got %q", cfg.STT.ModelSize)
	}
	if cfg.LLM.APIKey != "explicit" {
		t.Fatalf("expected LOQA_LLM_API_KEY to win, got %q", cfg.LLM.APIKey)
	}
}

func TestMockModesNeedNoCredentials(t *testing.T) {
	t.Setenv("COHERE_API_KEY", "")
	t.Setenv("LOQA_LLM_MODE", "mock")
	t.Setenv("LOQA_STT_MODE", "mock")
	t.Setenv("LOQA_TTS_MODE", "mock")

	if _, err := Load(""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	path := filepath.Join(t.TempDir(), "relay.yaml")
	data := `
http:
  port: 9000
relay:
  language: en
  fallback_reply: "Done."
llm:
  mode: openai
  model: gpt-4o-mini
stt:
  mode: mock
event_store:
  retention_mode: session
  path: ./relay.db
bus:
  enabled: true
  servers: ["nats://bus:4222"]
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 9000 {
		t.Fatalf("expected port 9000, got %d", cfg.HTTP.Port)
	}
	if cfg.Relay.Language != "en" || cfg.Relay.FallbackReply != "Done." {
		t.Fatalf("unexpected relay config: %+v", cfg.Relay)
	}
	if cfg.Relay.FallbackTranscript == "" {
		t.Fatal("expected default fallback transcript to survive partial yaml")
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Fatalf("expected OPENAI_API_KEY fallback, got %q", cfg.LLM.APIKey)
	}
	if cfg.Bus.Servers[0] != "nats://bus:4222" {
		t.Fatalf("unexpected bus servers %v", cfg.Bus.Servers)
	}
}

func TestLLMModelDefaultsFollowMode(t *testing.T) {
	cases := map[string]string{
		"cohere": "command-a-03-2025",
		"openai": "gpt-4o-mini",
		"gemini": "gemini-2.5-flash",
		"ollama": "llama3.2",
	}
	for mode, want := range cases {
		t.Run(mode, func(t *testing.T) {
			t.Setenv("LOQA_LLM_MODE", mode)
			t.Setenv("LOQA_LLM_API_KEY", "key")
			cfg, err := Load("")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.LLM.Model != want {
				t.Fatalf("mode %s: expected model %q, got %q", mode, want, cfg.LLM.Model)
			}
		})
	}
}

func TestLLMModelExplicitChoiceKept(t *testing.T) {
	t.Setenv("LOQA_LLM_MODE", "openai")
	t.Setenv("LOQA_LLM_API_KEY", "key")
	t.Setenv("LOQA_LLM_MODEL", "gpt-4.1")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.Model != "gpt-4.1" {
		t.Fatalf("expected configured model to win, got %q", cfg.LLM.Model)
	}
}

func TestDefaultSTTCommandShipsWithRepo(t *testing.T) {
	fields := strings.Fields(Default().STT.Command)
	if len(fields) < 2 {
		t.Fatalf("unexpected default stt command %q", Default().STT.Command)
	}
	script := filepath.Join("..", "..", filepath.FromSlash(fields[len(fields)-1]))
	if _, err := os.Stat(script); err != nil {
		t.Fatalf("default stt worker %s is not in the repository: %v", fields[len(fields)-1], err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateRejectsBadModes(t *testing.T) {
	cases := map[string]func(*Config){
		"stt mode":        func(c *Config) { c.STT.Mode = "vosk" },
		"llm mode":        func(c *Config) { c.LLM.Mode = "claude" },
		"tts mode":        func(c *Config) { c.TTS.Mode = "espeak" },
		"worker command":  func(c *Config) { c.STT.Command = "" },
		"worker count":    func(c *Config) { c.STT.Workers = 0 },
		"beam size":       func(c *Config) { c.STT.BeamSize = 0 },
		"retention":       func(c *Config) { c.EventStore.RetentionMode = "forever" },
		"log level":       func(c *Config) { c.Telemetry.LogLevel = "trace" },
		"empty fallback":  func(c *Config) { c.Relay.FallbackReply = "  " },
		"negative budget": func(c *Config) { c.Relay.RespondTimeoutMS = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			cfg.LLM.APIKey = "key"
			mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
