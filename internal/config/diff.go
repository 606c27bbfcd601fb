package config

import "time"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// requires a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	AutoListenChanged bool
	NewAutoListen     bool

	SilenceThresholdChanged bool
	NewSilenceThreshold     time.Duration
}

// Empty reports whether nothing hot-reloadable changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.AutoListenChanged && !d.SilenceThresholdChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}
	if old.Client.AutoListen != new.Client.AutoListen {
		d.AutoListenChanged = true
		d.NewAutoListen = new.Client.AutoListen
	}
	if old.Client.SilenceThreshold != new.Client.SilenceThreshold {
		d.SilenceThresholdChanged = true
		d.NewSilenceThreshold = new.Client.SilenceThreshold
	}
	return d
}
