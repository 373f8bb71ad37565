package config_test

import (
	"testing"

	"github.com/MrWong99/trunkline/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		TTS:    config.TTSConfig{Voice: "alloy", Model: "tts-1"},
	}
	d := config.Diff(cfg, cfg)
	if !d.Empty() {
		t.Errorf("expected empty diff for identical configs, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Fatal("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel: got %q, want debug", d.NewLogLevel)
	}
}

func TestDiff_VoiceChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{TTS: config.TTSConfig{Voice: "alloy"}}
	new := &config.Config{TTS: config.TTSConfig{Voice: "nova"}}

	if d := config.Diff(old, new); !d.VoiceChanged {
		t.Error("expected VoiceChanged=true")
	}
}

func TestDiff_TimingChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Call: config.CallConfig{TranscriptTimeoutMS: 180000}}
	new := &config.Config{Call: config.CallConfig{TranscriptTimeoutMS: 60000}}

	if d := config.Diff(old, new); !d.TimingChanged {
		t.Error("expected TimingChanged=true")
	}
}

func TestDiff_CredentialChangeIsNotReloadable(t *testing.T) {
	t.Parallel()
	old := &config.Config{Phone: config.PhoneConfig{AuthToken: "a"}}
	new := &config.Config{Phone: config.PhoneConfig{AuthToken: "b"}}

	if d := config.Diff(old, new); !d.Empty() {
		t.Errorf("credential changes must not appear in the diff, got %+v", d)
	}
}
