package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSTTCommand starts the faster-whisper worker shipped in scripts/,
// resolved against the working directory.
const DefaultSTTCommand = "python3 scripts/faster_whisper_worker.py"

// defaultLLMModels is the model used per chat mode when none is configured.
var defaultLLMModels = map[string]string{
	"cohere": "command-a-03-2025",
	"openai": "gpt-4o-mini",
	"gemini": "gemini-2.5-flash",
	"ollama": "llama3.2",
}

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	TraceStdout  bool   `yaml:"trace_stdout"`
}

type HTTPConfig struct {
	Bind           string `yaml:"bind"`
	Port           int    `yaml:"port"`
	MaxUploadBytes int    `yaml:"max_upload_bytes"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms"`
}

type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Admin       AdminConfig      `yaml:"admin"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Relay       RelayConfig      `yaml:"relay"`
	STT         STTConfig        `yaml:"stt"`
	LLM         LLMConfig        `yaml:"llm"`
	TTS         TTSConfig        `yaml:"tts"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Bus         BusConfig        `yaml:"bus"`
}

// RelayConfig holds the fixed conversation policy applied to every request.
type RelayConfig struct {
	Language            string `yaml:"language"`
	SystemPrompt        string `yaml:"system_prompt"`
	FallbackTranscript  string `yaml:"fallback_transcript"`
	FallbackReply       string `yaml:"fallback_reply"`
	TempDir             string `yaml:"temp_dir"`
	TranscribeTimeoutMS int    `yaml:"transcribe_timeout_ms"`
	RespondTimeoutMS    int    `yaml:"respond_timeout_ms"`
	SynthesizeTimeoutMS int    `yaml:"synthesize_timeout_ms"`
	IncludeText         bool   `yaml:"include_text"`
}

type STTConfig struct {
	Mode             string `yaml:"mode"` // worker, openai, google, mock
	Command          string `yaml:"command"`
	Workers          int    `yaml:"workers"`
	StartupTimeoutMS int    `yaml:"startup_timeout_ms"`
	ModelSize        string `yaml:"model_size"`
	Device           string `yaml:"device"`
	ComputeType      string `yaml:"compute_type"`
	BeamSize         int    `yaml:"beam_size"`
	VADFilter        bool   `yaml:"vad_filter"`
	Endpoint         string `yaml:"endpoint"`
	APIKey           string `yaml:"api_key"`
	Model            string `yaml:"model"`
	CredentialsFile  string `yaml:"credentials_file"`
}

type LLMConfig struct {
	Mode        string  `yaml:"mode"` // cohere, openai, gemini, ollama, exec, mock
	Endpoint    string  `yaml:"endpoint"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Command     string  `yaml:"command"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

type TTSConfig struct {
	Mode          string `yaml:"mode"` // gtranslate, openai, exec, mock
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	Voice         string `yaml:"voice"`
	Command       string `yaml:"command"`
	MaxChunkRunes int    `yaml:"max_chunk_runes"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxExchanges  int    `yaml:"max_exchanges"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type BusConfig struct {
	Enabled          bool     `yaml:"enabled"`
	Embedded         bool     `yaml:"embedded"`
	Host             string   `yaml:"host"`
	Port             int      `yaml:"port"`
	StoreDir         string   `yaml:"store_dir"`
	MaxStoreMB       int      `yaml:"max_store_mb"`
	Servers          []string `yaml:"servers"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	Token            string   `yaml:"token"`
	TLSInsecure      bool     `yaml:"tls_insecure"`
	ConnectTimeout   int      `yaml:"connect_timeout_ms"`
	PublishTimeoutMS int      `yaml:"publish_timeout_ms"`
}

// PublishTimeout bounds one exchange-event publish, JetStream ack included.
func (b BusConfig) PublishTimeout() time.Duration {
	return time.Duration(b.PublishTimeoutMS) * time.Millisecond
}

func (r RelayConfig) TranscribeTimeout() time.Duration {
	return time.Duration(r.TranscribeTimeoutMS) * time.Millisecond
}

func (r RelayConfig) RespondTimeout() time.Duration {
	return time.Duration(r.RespondTimeoutMS) * time.Millisecond
}

func (r RelayConfig) SynthesizeTimeout() time.Duration {
	return time.Duration(r.SynthesizeTimeoutMS) * time.Millisecond
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-relay",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind:           "0.0.0.0",
			Port:           8000,
			MaxUploadBytes: 25 << 20,
			ReadTimeoutMS:  30000,
		},
		Admin: AdminConfig{
			Enabled: true,
			Bind:    ":9091",
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Relay: RelayConfig{
			Language: "ar",
			SystemPrompt: "You are a helpful Arabic conversational assistant. " +
				"Keep answers concise, clear, and actionable.",
			FallbackTranscript:  "لم يصل نص واضح.",
			FallbackReply:       "تم.",
			TranscribeTimeoutMS: 120000,
			RespondTimeoutMS:    60000,
			SynthesizeTimeoutMS: 60000,
		},
		STT: STTConfig{
			Mode:             "worker",
			Command:          DefaultSTTCommand,
			Workers:          1,
			StartupTimeoutMS: 300000,
			ModelSize:        "small",
			Device:           "cpu",
			ComputeType:      "int8",
			BeamSize:         5,
			VADFilter:        true,
			Model:            "whisper-1",
		},
		LLM: LLMConfig{
			Mode:  "cohere",
			Model: defaultLLMModels["cohere"],
		},
		TTS: TTSConfig{
			Mode:          "gtranslate",
			Model:         "tts-1",
			Voice:         "alloy",
			MaxChunkRunes: 100,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/relay-events.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxExchanges:  10000,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:         false,
			Host:             "127.0.0.1",
			Port:             4222,
			StoreDir:         "./data/nats",
			MaxStoreMB:       256,
			Servers:          []string{"nats://localhost:4222"},
			ConnectTimeout:   2000,
			PublishTimeoutMS: 500,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	applyModelDefaults(&cfg)
	applyCredentialFallbacks(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideInt(&cfg.HTTP.MaxUploadBytes, "LOQA_HTTP_MAX_UPLOAD_BYTES")
	overrideInt(&cfg.HTTP.ReadTimeoutMS, "LOQA_HTTP_READ_TIMEOUT_MS")
	overrideBool(&cfg.Admin.Enabled, "LOQA_ADMIN_ENABLED")
	overrideString(&cfg.Admin.Bind, "LOQA_ADMIN_BIND")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.TraceStdout, "LOQA_TELEMETRY_TRACE_STDOUT")
	overrideString(&cfg.Relay.Language, "LOQA_RELAY_LANGUAGE")
	overrideString(&cfg.Relay.SystemPrompt, "LOQA_RELAY_SYSTEM_PROMPT")
	overrideString(&cfg.Relay.FallbackTranscript, "LOQA_RELAY_FALLBACK_TRANSCRIPT")
	overrideString(&cfg.Relay.FallbackReply, "LOQA_RELAY_FALLBACK_REPLY")
	overrideString(&cfg.Relay.TempDir, "LOQA_RELAY_TEMP_DIR")
	overrideInt(&cfg.Relay.TranscribeTimeoutMS, "LOQA_RELAY_TRANSCRIBE_TIMEOUT_MS")
	overrideInt(&cfg.Relay.RespondTimeoutMS, "LOQA_RELAY_RESPOND_TIMEOUT_MS")
	overrideInt(&cfg.Relay.SynthesizeTimeoutMS, "LOQA_RELAY_SYNTHESIZE_TIMEOUT_MS")
	overrideBool(&cfg.Relay.IncludeText, "LOQA_RELAY_INCLUDE_TEXT")
	overrideString(&cfg.STT.Mode, "LOQA_STT_MODE")
	overrideString(&cfg.STT.Command, "LOQA_STT_COMMAND")
	overrideInt(&cfg.STT.Workers, "LOQA_STT_WORKERS")
	overrideInt(&cfg.STT.StartupTimeoutMS, "LOQA_STT_STARTUP_TIMEOUT_MS")
	overrideString(&cfg.STT.ModelSize, "WHISPER_MODEL_SIZE")
	overrideString(&cfg.STT.ModelSize, "LOQA_STT_MODEL_SIZE")
	overrideString(&cfg.STT.Device, "WHISPER_DEVICE")
	overrideString(&cfg.STT.Device, "LOQA_STT_DEVICE")
	overrideString(&cfg.STT.ComputeType, "WHISPER_COMPUTE_TYPE")
	overrideString(&cfg.STT.ComputeType, "LOQA_STT_COMPUTE_TYPE")
	overrideInt(&cfg.STT.BeamSize, "LOQA_STT_BEAM_SIZE")
	overrideBool(&cfg.STT.VADFilter, "LOQA_STT_VAD_FILTER")
	overrideString(&cfg.STT.Endpoint, "LOQA_STT_ENDPOINT")
	overrideString(&cfg.STT.APIKey, "LOQA_STT_API_KEY")
	overrideString(&cfg.STT.Model, "LOQA_STT_MODEL")
	overrideString(&cfg.STT.CredentialsFile, "LOQA_STT_CREDENTIALS_FILE")
	overrideString(&cfg.LLM.Mode, "LOQA_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "LOQA_LLM_ENDPOINT")
	overrideString(&cfg.LLM.APIKey, "LOQA_LLM_API_KEY")
	overrideString(&cfg.LLM.Model, "LOQA_LLM_MODEL")
	overrideString(&cfg.LLM.Command, "LOQA_LLM_COMMAND")
	overrideInt(&cfg.LLM.MaxTokens, "LOQA_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "LOQA_LLM_TEMPERATURE")
	overrideString(&cfg.TTS.Mode, "LOQA_TTS_MODE")
	overrideString(&cfg.TTS.Endpoint, "LOQA_TTS_ENDPOINT")
	overrideString(&cfg.TTS.APIKey, "LOQA_TTS_API_KEY")
	overrideString(&cfg.TTS.Model, "LOQA_TTS_MODEL")
	overrideString(&cfg.TTS.Voice, "LOQA_TTS_VOICE")
	overrideString(&cfg.TTS.Command, "LOQA_TTS_COMMAND")
	overrideInt(&cfg.TTS.MaxChunkRunes, "LOQA_TTS_MAX_CHUNK_RUNES")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxExchanges, "LOQA_EVENT_STORE_MAX_EXCHANGES")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideString(&cfg.Bus.Host, "LOQA_BUS_HOST")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideInt(&cfg.Bus.MaxStoreMB, "LOQA_BUS_MAX_STORE_MB")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Bus.PublishTimeoutMS, "LOQA_BUS_PUBLISH_TIMEOUT_MS")
}

// applyModelDefaults swaps the built-in cohere model for the selected mode's
// own default. A model the operator chose for that mode is left alone.
func applyModelDefaults(cfg *Config) {
	if cfg.LLM.Mode == "cohere" || cfg.LLM.Model != defaultLLMModels["cohere"] {
		return
	}
	if model, ok := defaultLLMModels[cfg.LLM.Mode]; ok {
		cfg.LLM.Model = model
	}
}

// applyCredentialFallbacks fills empty API keys from the provider's
// conventional environment variable for the selected mode.
func applyCredentialFallbacks(cfg *Config) {
	if cfg.LLM.APIKey == "" {
		switch cfg.LLM.Mode {
		case "cohere":
			overrideString(&cfg.LLM.APIKey, "COHERE_API_KEY")
		case "openai":
			overrideString(&cfg.LLM.APIKey, "OPENAI_API_KEY")
		case "gemini":
			overrideString(&cfg.LLM.APIKey, "GEMINI_API_KEY")
		}
	}
	if cfg.STT.APIKey == "" && cfg.STT.Mode == "openai" {
		overrideString(&cfg.STT.APIKey, "OPENAI_API_KEY")
	}
	if cfg.STT.CredentialsFile == "" && cfg.STT.Mode == "google" {
		overrideString(&cfg.STT.CredentialsFile, "GOOGLE_APPLICATION_CREDENTIALS")
	}
	if cfg.TTS.APIKey == "" && cfg.TTS.Mode == "openai" {
		overrideString(&cfg.TTS.APIKey, "OPENAI_API_KEY")
	}
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.HTTP.MaxUploadBytes <= 0 {
		return errors.New("http.max_upload_bytes must be positive")
	}
	if cfg.Admin.Enabled && cfg.Admin.Bind == "" {
		return errors.New("admin.bind must not be empty when admin is enabled")
	}
	switch strings.ToLower(cfg.Telemetry.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	if cfg.Relay.Language == "" {
		return errors.New("relay.language must not be empty")
	}
	if strings.TrimSpace(cfg.Relay.FallbackTranscript) == "" {
		return errors.New("relay.fallback_transcript must not be empty")
	}
	if strings.TrimSpace(cfg.Relay.FallbackReply) == "" {
		return errors.New("relay.fallback_reply must not be empty")
	}
	if cfg.Relay.TranscribeTimeoutMS < 0 || cfg.Relay.RespondTimeoutMS < 0 || cfg.Relay.SynthesizeTimeoutMS < 0 {
		return errors.New("relay stage timeouts must be >= 0")
	}

	switch cfg.STT.Mode {
	case "worker":
		if cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=worker")
		}
		if cfg.STT.Workers <= 0 {
			return errors.New("stt.workers must be >= 1")
		}
	case "openai":
		if cfg.STT.APIKey == "" && cfg.STT.Endpoint == "" {
			return errors.New("stt.api_key (OPENAI_API_KEY) or stt.endpoint must be set when mode=openai")
		}
	case "google", "mock":
	default:
		return errors.New("stt.mode must be one of worker|openai|google|mock")
	}
	if cfg.STT.BeamSize <= 0 {
		return errors.New("stt.beam_size must be positive")
	}

	switch cfg.LLM.Mode {
	case "cohere", "openai", "gemini":
		if cfg.LLM.APIKey == "" {
			return fmt.Errorf("llm.api_key must be set when mode=%s (%s)", cfg.LLM.Mode, credentialEnv(cfg.LLM.Mode))
		}
	case "ollama":
	case "exec":
		if cfg.LLM.Command == "" {
			return errors.New("llm.command must be set when mode=exec")
		}
	case "mock":
	default:
		return errors.New("llm.mode must be one of cohere|openai|gemini|ollama|exec|mock")
	}
	if cfg.LLM.Model == "" && cfg.LLM.Mode != "mock" && cfg.LLM.Mode != "exec" {
		return errors.New("llm.model must not be empty")
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}

	switch cfg.TTS.Mode {
	case "gtranslate", "mock":
	case "openai":
		if cfg.TTS.APIKey == "" && cfg.TTS.Endpoint == "" {
			return errors.New("tts.api_key (OPENAI_API_KEY) or tts.endpoint must be set when mode=openai")
		}
	case "exec":
		if cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
	default:
		return errors.New("tts.mode must be one of gtranslate|openai|exec|mock")
	}
	if cfg.TTS.MaxChunkRunes <= 0 {
		return errors.New("tts.max_chunk_runes must be positive")
	}

	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionMode != "ephemeral" && cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}

	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Bus.PublishTimeoutMS <= 0 {
			return errors.New("bus.publish_timeout_ms must be positive")
		}
	}
	return nil
}

func credentialEnv(mode string) string {
	switch mode {
	case "cohere":
		return "COHERE_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "gemini":
		return "GEMINI_API_KEY"
	}
	return "LOQA_LLM_API_KEY"
}
