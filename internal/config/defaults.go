package config

import "time"

// Defaults applied by [ApplyDefaults].
const (
	DefaultServerURL        = "ws://localhost:8765/ws"
	DefaultListenAddr       = ":8765"
	DefaultSilenceThreshold = 2 * time.Second
	DefaultNoSpeechTimeout  = 8 * time.Second
	DefaultLanguage         = "en-US"
	DefaultHistoryLimit     = 20
	DefaultReplyTimeout     = 30 * time.Second
	DefaultSampleRate       = 16000

	DefaultInputDevice  = "exec:arecord -q -t raw -f S16_LE -r 16000 -c 1"
	DefaultOutputDevice = "exec:aplay -q -t raw -f S16_LE -r 16000 -c 1"
)

// ApplyDefaults fills every unset field that has a default. Explicit values
// are never overwritten.
func ApplyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = LogInfo
	}

	c := &cfg.Client
	if c.ServerURL == "" {
		c.ServerURL = DefaultServerURL
	}
	if c.SilenceThreshold == 0 {
		c.SilenceThreshold = DefaultSilenceThreshold
	}
	if c.NoSpeechTimeout == 0 {
		c.NoSpeechTimeout = DefaultNoSpeechTimeout
	}
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.Audio.Input == "" {
		c.Audio.Input = DefaultInputDevice
	}
	if c.Audio.Output == "" {
		c.Audio.Output = DefaultOutputDevice
	}
	defaultFormat(&c.Audio.InputFormat)
	defaultFormat(&c.Audio.OutputFormat)

	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.HistoryLimit == 0 {
		s.HistoryLimit = DefaultHistoryLimit
	}
	if s.ReplyTimeout == 0 {
		s.ReplyTimeout = DefaultReplyTimeout
	}
}

func defaultFormat(f *FormatConfig) {
	if f.SampleRate == 0 {
		f.SampleRate = DefaultSampleRate
	}
	if f.Channels == 0 {
		f.Channels = 1
	}
}
