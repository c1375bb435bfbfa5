package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only the log level and the filter section can be applied to a running
// service; every other change is reported in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	FilterChanged bool
	NewFilter     FilterConfig

	SpeakersChanged bool

	// RestartRequired names the sections whose changes only take effect
	// after a restart, e.g. "audio" or "sources".
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.FilterChanged || d.SpeakersChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if !reflect.DeepEqual(old.Filter, new.Filter) {
		d.FilterChanged = true
		d.NewFilter = new.Filter
	}
	if !reflect.DeepEqual(old.Sinks.Speakers, new.Sinks.Speakers) {
		d.SpeakersChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || old.Server.StatsIntervalMs != new.Server.StatsIntervalMs {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if !reflect.DeepEqual(old.Sources, new.Sources) {
		d.RestartRequired = append(d.RestartRequired, "sources")
	}
	if !reflect.DeepEqual(old.Transcription, new.Transcription) {
		d.RestartRequired = append(d.RestartRequired, "transcription")
	}
	oldSinks, newSinks := old.Sinks, new.Sinks
	oldSinks.Speakers, newSinks.Speakers = nil, nil
	if !reflect.DeepEqual(oldSinks, newSinks) {
		d.RestartRequired = append(d.RestartRequired, "sinks")
	}

	return d
}
