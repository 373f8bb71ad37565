package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; credentials and
// carrier selection require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VoiceChanged reports a change to the synthesis voice or model.
	// Applies to the next utterance spoken.
	VoiceChanged bool

	// TimingChanged reports a change to silence detection or turn
	// timeouts. Applies to calls placed after the reload; calls in
	// flight keep the deadlines they started with.
	TimingChanged bool
}

// Empty reports whether the diff carries no reloadable change.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.VoiceChanged && !d.TimingChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.TTS.Voice != new.TTS.Voice || old.TTS.Model != new.TTS.Model {
		d.VoiceChanged = true
	}
	if old.STT.SilenceDurationMS != new.STT.SilenceDurationMS ||
		old.Call.TranscriptTimeoutMS != new.Call.TranscriptTimeoutMS ||
		old.Call.MaxDurationMS != new.Call.MaxDurationMS {
		d.TimingChanged = true
	}

	return d
}
