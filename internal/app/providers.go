package app

import (
	"errors"
	"fmt"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/parley/pkg/provider/llm/openai"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/stt/deepgram"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/tts/elevenlabs"
)

// ErrNoProvider is returned when a required provider slot is empty.
var ErrNoProvider = errors.New("app: provider not configured")

// RegisterBuiltinProviders wires every provider that ships with parley into
// reg.
func RegisterBuiltinProviders(reg *config.Registry) {
	// any-llm backends share one shape: optional APIKey + optional BaseURL.
	for _, name := range anyllm.Providers {
		if name == "openai" {
			continue
		}
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	// OpenAI and compatible endpoints go through the official SDK.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org, ok := entry.StringOption("organization"); ok {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		if ms, ok := entry.IntOption("timeout_ms"); ok {
			opts = append(opts, oaillm.WithTimeout(time.Duration(ms)*time.Millisecond))
		}
		if n, ok := entry.IntOption("max_retries"); ok {
			opts = append(opts, oaillm.WithMaxRetries(n))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if ms, ok := entry.IntOption("endpointing_ms"); ok {
			opts = append(opts, deepgram.WithEndpointing(time.Duration(ms)*time.Millisecond))
		}
		if lang, ok := entry.StringOption("language"); ok {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if f, ok := entry.StringOption("output_format"); ok {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		if entry.BaseURL != "" {
			ws, _ := entry.StringOption("ws_base_url")
			if ws == "" {
				ws = entry.BaseURL
			}
			opts = append(opts, elevenlabs.WithBaseURLs(ws, entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})
}

func fallbackConfig(kind string, m *observe.Metrics) resilience.GroupConfig {
	return resilience.GroupConfig{Kind: kind, Metrics: m}
}

// BuildLLM creates the configured LLM and its fallbacks behind circuit
// breakers.
func BuildLLM(cfg config.ProvidersConfig, reg *config.Registry, m *observe.Metrics) (*resilience.LLMFallback, error) {
	if cfg.LLM.Name == "" {
		return nil, fmt.Errorf("%w: llm", ErrNoProvider)
	}
	primary, err := reg.CreateLLM(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("app: llm %q: %w", cfg.LLM.Name, err)
	}
	group := resilience.NewLLMFallback(primary, cfg.LLM.Name, fallbackConfig("llm", m))
	for i, entry := range cfg.LLMFallbacks {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("app: llm fallback %d %q: %w", i, entry.Name, err)
		}
		group.AddFallback(entry.Name, p)
	}
	return group, nil
}

// BuildSTT creates the configured speech recognizer and its fallbacks.
func BuildSTT(cfg config.ProvidersConfig, reg *config.Registry, m *observe.Metrics) (*resilience.STTFallback, error) {
	if cfg.STT.Name == "" {
		return nil, fmt.Errorf("%w: stt", ErrNoProvider)
	}
	primary, err := reg.CreateSTT(cfg.STT)
	if err != nil {
		return nil, fmt.Errorf("app: stt %q: %w", cfg.STT.Name, err)
	}
	group := resilience.NewSTTFallback(primary, cfg.STT.Name, fallbackConfig("stt", m))
	for i, entry := range cfg.STTFallbacks {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("app: stt fallback %d %q: %w", i, entry.Name, err)
		}
		group.AddFallback(entry.Name, p)
	}
	return group, nil
}

// BuildTTS creates the configured speech synthesizer and its fallbacks.
func BuildTTS(cfg config.ProvidersConfig, reg *config.Registry, m *observe.Metrics) (*resilience.TTSFallback, error) {
	if cfg.TTS.Name == "" {
		return nil, fmt.Errorf("%w: tts", ErrNoProvider)
	}
	primary, err := reg.CreateTTS(cfg.TTS)
	if err != nil {
		return nil, fmt.Errorf("app: tts %q: %w", cfg.TTS.Name, err)
	}
	group := resilience.NewTTSFallback(primary, cfg.TTS.Name, fallbackConfig("tts", m))
	for i, entry := range cfg.TTSFallbacks {
		p, err := reg.CreateTTS(entry)
		if err != nil {
			return nil, fmt.Errorf("app: tts fallback %d %q: %w", i, entry.Name, err)
		}
		group.AddFallback(entry.Name, p)
	}
	return group, nil
}
