package config

import (
	"maps"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Interruption and log level changes are hot-reloaded; everything listed in
// RestartRequired only takes effect after a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// InterruptionChanged is true if any field below changed. New sessions
	// pick up the new settings; live sessions keep theirs.
	InterruptionChanged bool
	VocabularyChanged   bool // soft words, command words or aliases
	ThresholdChanged    bool
	DelayChanged        bool
	FuzzyFoldingChanged bool

	// RestartRequired names the YAML sections whose changes are ignored
	// until the process restarts.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oi, ni := old.Interruption.ToInterrupt(), new.Interruption.ToInterrupt()
	if !sameSet(oi.SoftWords, ni.SoftWords) || !sameSet(oi.CommandWords, ni.CommandWords) || !maps.Equal(oi.Aliases, ni.Aliases) {
		d.VocabularyChanged = true
	}
	d.ThresholdChanged = oi.ConfidenceThreshold != ni.ConfidenceThreshold
	d.DelayChanged = oi.TranscriptionDelay != ni.TranscriptionDelay
	d.FuzzyFoldingChanged = old.Interruption.FuzzyFolding != new.Interruption.FuzzyFolding
	d.InterruptionChanged = d.VocabularyChanged || d.ThresholdChanged || d.DelayChanged || d.FuzzyFoldingChanged

	if old.Server.ListenAddr != new.Server.ListenAddr || !sameTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	if old.Audit != new.Audit {
		d.RestartRequired = append(d.RestartRequired, "audit")
	}
	if !sameGateway(old.Gateway, new.Gateway) {
		d.RestartRequired = append(d.RestartRequired, "gateway")
	}

	return d
}

// sameSet reports whether a and b hold the same words, ignoring order.
func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameGateway(a, b GatewayConfig) bool {
	return a.Path == b.Path &&
		a.MaxMessageBytes == b.MaxMessageBytes &&
		a.WriteTimeout == b.WriteTimeout &&
		slices.Equal(a.AllowedOrigins, b.AllowedOrigins)
}
