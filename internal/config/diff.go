package config

// ConfigDiff describes what changed between two configs. Everything except
// the storage section can be applied to a running process.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TranscribeChanged and PolishChanged indicate that the respective
	// provider block differs and the provider must be rebuilt.
	TranscribeChanged bool
	PolishChanged     bool

	// PipelineChanged indicates that retry, auto-polish, or title
	// regeneration knobs differ.
	PipelineChanged bool

	// DefaultsChanged indicates that new-note defaults differ.
	DefaultsChanged bool

	// StorageChanged indicates the storage section differs. Storage cannot
	// be swapped at runtime; a restart is required.
	StorageChanged bool
}

// Empty reports whether no difference was found.
func (d ConfigDiff) Empty() bool {
	return d == ConfigDiff{}
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Providers.Transcribe != new.Providers.Transcribe {
		d.TranscribeChanged = true
	}
	if old.Providers.Polish != new.Providers.Polish {
		d.PolishChanged = true
	}

	if old.Pipeline.AutoPolishEnabled() != new.Pipeline.AutoPolishEnabled() ||
		old.Pipeline.RegenerateTitle != new.Pipeline.RegenerateTitle ||
		old.Pipeline.MaxAttempts != new.Pipeline.MaxAttempts ||
		old.Pipeline.InitialBackoff != new.Pipeline.InitialBackoff {
		d.PipelineChanged = true
	}

	if old.Defaults != new.Defaults {
		d.DefaultsChanged = true
	}

	if old.Storage != new.Storage {
		d.StorageChanged = true
	}

	return d
}
