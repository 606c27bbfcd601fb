// Package config provides the configuration schema, loader, and provider
// registry for the parley client and its reference conversation server.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to the slog level. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Config is the root configuration structure. The client reads the client
// and providers.stt/tts sections; the server reads server and providers.llm.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	// LogLevel controls verbosity of both binaries.
	LogLevel LogLevel `yaml:"log_level"`

	Client    ClientConfig    `yaml:"client"`
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ClientConfig holds the settings of the voice client.
type ClientConfig struct {
	// ServerURL is the WebSocket address of the conversation server
	// (e.g., "ws://localhost:8765/ws").
	ServerURL string `yaml:"server_url"`

	// AutoListen resumes listening automatically after the bot has spoken.
	// Hot-reloadable.
	AutoListen bool `yaml:"auto_listen"`

	// SilenceThreshold is the quiet period after the last transcript update
	// that ends an utterance. Hot-reloadable.
	SilenceThreshold time.Duration `yaml:"silence_threshold"`

	// NoSpeechTimeout is how long the recognizer waits for any speech before
	// reporting no-speech. A negative value disables the check.
	NoSpeechTimeout time.Duration `yaml:"no_speech_timeout"`

	// Language is the BCP-47 recognition language (e.g., "en-US").
	Language string `yaml:"language"`

	// Voice is the TTS voice identifier.
	Voice string `yaml:"voice"`

	// Vocabulary lists names and terms the recognizer tends to mishear.
	// Phrases that sound like one of them are rewritten to its spelling.
	Vocabulary []string `yaml:"vocabulary"`

	// MetricsAddr, when set, serves /metrics and health probes on this
	// address (e.g., ":9091").
	MetricsAddr string `yaml:"metrics_addr"`

	Audio AudioConfig `yaml:"audio"`
}

// AudioConfig selects the local sound devices. Device specs are "-" for
// stdio, "discard" (output only), "exec:<command>" or a file path.
type AudioConfig struct {
	Input        string       `yaml:"input"`
	InputFormat  FormatConfig `yaml:"input_format"`
	Output       string       `yaml:"output"`
	OutputFormat FormatConfig `yaml:"output_format"`
}

// FormatConfig describes raw 16-bit PCM.
type FormatConfig struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
}

// ServerConfig holds the settings of the reference conversation server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8765").
	ListenAddr string `yaml:"listen_addr"`

	// Greeting is sent to every new connection. Empty uses the built-in one.
	Greeting string `yaml:"greeting"`

	// SystemPrompt replaces the built-in persona prompt when set.
	SystemPrompt string `yaml:"system_prompt"`

	// HistoryLimit caps the conversation history sent to the LLM, system
	// prompt included.
	HistoryLimit int `yaml:"history_limit"`

	// ReplyTimeout bounds a single LLM reply.
	ReplyTimeout time.Duration `yaml:"reply_timeout"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation to use for each
// stage. Each entry selects a named provider registered in the [Registry].
// Fallback entries are tried in order when the primary's circuit opens.
type ProvidersConfig struct {
	STT          ProviderEntry   `yaml:"stt"`
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`

	TTS          ProviderEntry   `yaml:"tts"`
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`

	LLM          ProviderEntry   `yaml:"llm"`
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "groq", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "nova-3").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// StringOption returns Options[key] if it is a string.
func (e ProviderEntry) StringOption(key string) (string, bool) {
	v, ok := e.Options[key].(string)
	return v, ok
}

// IntOption returns Options[key] if it is a whole number.
func (e ProviderEntry) IntOption(key string) (int, bool) {
	switch v := e.Options[key].(type) {
	case int:
		return v, true
	case float64:
		if v == float64(int(v)) {
			return int(v), true
		}
	}
	return 0, false
}
