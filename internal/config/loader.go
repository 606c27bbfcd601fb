package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/parley/pkg/audio"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"groq", "openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "llamacpp", "llamafile"},
	"stt": {"deepgram"},
	"tts": {"elevenlabs"},
}

// Load reads the YAML configuration file at path, applies defaults and
// returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	// Client
	c := cfg.Client
	if c.ServerURL != "" {
		if u, err := url.Parse(c.ServerURL); err != nil {
			errs = append(errs, fmt.Errorf("client.server_url: %w", err))
		} else if u.Scheme != "ws" && u.Scheme != "wss" {
			errs = append(errs, fmt.Errorf("client.server_url %q must use ws or wss", c.ServerURL))
		}
	}
	if c.SilenceThreshold < 0 {
		errs = append(errs, fmt.Errorf("client.silence_threshold %s must not be negative", c.SilenceThreshold))
	}
	if err := formatOf(c.Audio.InputFormat).Validate(); err != nil {
		errs = append(errs, fmt.Errorf("client.audio.input_format: %w", err))
	}
	if err := formatOf(c.Audio.OutputFormat).Validate(); err != nil {
		errs = append(errs, fmt.Errorf("client.audio.output_format: %w", err))
	}

	// Server
	s := cfg.Server
	if s.HistoryLimit < 2 {
		errs = append(errs, fmt.Errorf("server.history_limit %d must be at least 2", s.HistoryLimit))
	}
	if s.ReplyTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.reply_timeout %s must not be negative", s.ReplyTimeout))
	}
	if s.TLS != nil && (s.TLS.CertFile == "" || s.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	p := cfg.Providers
	validateProviderName("stt", p.STT.Name)
	validateProviderName("tts", p.TTS.Name)
	validateProviderName("llm", p.LLM.Name)
	errs = append(errs, validateFallbacks("stt", p.STT, p.STTFallbacks)...)
	errs = append(errs, validateFallbacks("tts", p.TTS, p.TTSFallbacks)...)
	errs = append(errs, validateFallbacks("llm", p.LLM, p.LLMFallbacks)...)

	return errors.Join(errs...)
}

// AudioInputFormat returns the configured microphone format.
func (c ClientConfig) AudioInputFormat() audio.Format { return formatOf(c.Audio.InputFormat) }

// AudioOutputFormat returns the configured speaker format.
func (c ClientConfig) AudioOutputFormat() audio.Format { return formatOf(c.Audio.OutputFormat) }

func formatOf(f FormatConfig) audio.Format {
	return audio.Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

func validateFallbacks(kind string, primary ProviderEntry, fallbacks []ProviderEntry) []error {
	var errs []error
	if primary.Name == "" && len(fallbacks) > 0 {
		errs = append(errs, fmt.Errorf("providers.%s_fallbacks set without providers.%s", kind, kind))
	}
	for i, fb := range fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s_fallbacks[%d].name is required", kind, i))
			continue
		}
		validateProviderName(kind, fb.Name)
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
