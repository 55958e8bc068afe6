package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; provider,
// reference and server address changes need a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// MatchingChanged is true if the threshold or alignment strategy changed.
	MatchingChanged bool

	// PipelineChanged is true if the unknown verse policy, default reciter or
	// analyze timeout changed.
	PipelineChanged bool

	// RestartRequired lists top-level sections whose changes are ignored
	// until the next restart.
	RestartRequired []string
}

// Changed reports whether any hot-reloadable setting differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.MatchingChanged || d.PipelineChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Matching != new.Matching {
		d.MatchingChanged = true
	}
	if old.Pipeline != new.Pipeline {
		d.PipelineChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || old.Server.LogFormat != new.Server.LogFormat ||
		old.Server.RequestTimeout != new.Server.RequestTimeout {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Resilience != new.Resilience {
		d.RestartRequired = append(d.RestartRequired, "resilience")
	}
	if old.Reference != new.Reference {
		d.RestartRequired = append(d.RestartRequired, "reference")
	}
	if old.Telemetry.ServiceName != new.Telemetry.ServiceName ||
		old.Telemetry.SampleRatio() != new.Telemetry.SampleRatio() {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}

// providersEqual compares the identity of configured providers. Options maps
// are not compared.
func providersEqual(a, b ProvidersConfig) bool {
	if len(a.STT) != len(b.STT) {
		return false
	}
	for i := range a.STT {
		if !entryEqual(a.STT[i], b.STT[i]) {
			return false
		}
	}
	return entryEqual(a.Analyzer, b.Analyzer)
}

func entryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
