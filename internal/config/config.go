// Package config provides the configuration schema, loader, and provider
// registry for the Trunkline call bridge.
package config

// LogLevel controls log verbosity for the Trunkline server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// PhoneProviderName selects the telephony carrier backend.
type PhoneProviderName string

const (
	PhoneTwilio PhoneProviderName = "twilio"
	PhoneTelnyx PhoneProviderName = "telnyx"
)

// IsValid reports whether p is a recognised carrier name.
func (p PhoneProviderName) IsValid() bool {
	return p == PhoneTwilio || p == PhoneTelnyx
}

// STTProviderName selects the transcription backend. Empty means auto-select
// based on which credentials are present.
type STTProviderName string

const (
	STTOpenAI   STTProviderName = "openai"
	STTDeepgram STTProviderName = "deepgram"
)

// IsValid reports whether s is a recognised transcription provider name.
func (s STTProviderName) IsValid() bool {
	return s == STTOpenAI || s == STTDeepgram
}

// Config is the root configuration structure for Trunkline. It is loaded from
// a YAML file via [Load] and then overlaid with environment variables via
// [ApplyEnv]; environment always wins, so containerised deployments need no
// config file at all.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Phone  PhoneConfig  `yaml:"phone"`
	TTS    TTSConfig    `yaml:"tts"`
	STT    STTConfig    `yaml:"stt"`
	Call   CallConfig   `yaml:"call"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// Port is the TCP port the HTTP server listens on.
	Port int `yaml:"port"`

	// PublicURL is the externally reachable base URL of this service
	// (e.g., "https://calls.example.com"). The carrier fetches call
	// instructions and opens media streams against it, so it must be
	// reachable from the public internet.
	PublicURL string `yaml:"public_url"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// PhoneConfig holds carrier credentials and the phone numbers used for
// outbound calls.
type PhoneConfig struct {
	// Provider selects the carrier backend.
	Provider PhoneProviderName `yaml:"provider"`

	// AccountSid is the carrier account identifier.
	AccountSid string `yaml:"account_sid"`

	// AuthToken is the carrier API credential (auth token for Twilio,
	// API key for Telnyx).
	AuthToken string `yaml:"auth_token"`

	// Number is the provisioned caller number in E.164 form.
	Number string `yaml:"number"`

	// UserNumber is the callee number in E.164 form.
	UserNumber string `yaml:"user_number"`

	// TelnyxPublicKey is the base64-encoded Ed25519 public key used to
	// verify Telnyx webhook signatures. Ignored for Twilio. When empty,
	// Telnyx webhooks are accepted unverified.
	TelnyxPublicKey string `yaml:"telnyx_public_key"`
}

// TTSConfig holds speech synthesis settings.
type TTSConfig struct {
	// APIKey authenticates against the synthesis API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the default OpenAI endpoint, e.g. to point at a
	// Lemonfox-compatible server. Leave empty for api.openai.com.
	BaseURL string `yaml:"base_url"`

	// Model selects the synthesis model.
	Model string `yaml:"model"`

	// Voice selects the synthesis voice.
	Voice string `yaml:"voice"`

	// SampleRate declares the sample rate of raw (headerless) responses.
	// WAV responses carry their own rate and ignore this.
	SampleRate int `yaml:"sample_rate"`
}

// STTConfig holds transcription settings.
type STTConfig struct {
	// Provider selects the transcription backend. Empty auto-selects
	// based on [Config.ResolveSTTProvider].
	Provider STTProviderName `yaml:"provider"`

	// APIKey authenticates against the transcription API.
	APIKey string `yaml:"api_key"`

	// Model selects the transcription model. Empty uses the provider's
	// default telephony model.
	Model string `yaml:"model"`

	// Language is the transcription language hint (e.g., "en").
	Language string `yaml:"language"`

	// SilenceDurationMS is how long a pause must last before the callee
	// is considered done speaking.
	SilenceDurationMS int `yaml:"silence_duration_ms"`
}

// CallConfig holds per-call timing settings.
type CallConfig struct {
	// TranscriptTimeoutMS bounds how long a turn waits for the callee's
	// reply before giving up.
	TranscriptTimeoutMS int `yaml:"transcript_timeout_ms"`

	// MaxDurationMS caps the total lifetime of a call. Zero uses the
	// built-in six-minute ceiling.
	MaxDurationMS int `yaml:"max_duration_ms"`
}

// Defaults fills in documented default values for fields left zero. It never
// touches fields that are already set.
func (c *Config) Defaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3333
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.TTS.Model == "" {
		c.TTS.Model = "tts-1"
	}
	if c.STT.SilenceDurationMS == 0 {
		c.STT.SilenceDurationMS = 800
	}
	if c.Call.TranscriptTimeoutMS == 0 {
		c.Call.TranscriptTimeoutMS = 180000
	}
}

// ResolveSTTProvider returns the effective transcription backend. The
// explicit choice wins; otherwise a dedicated transcription key selects
// Deepgram, and with no key of its own the OpenAI synthesis key is reused
// for Realtime transcription.
func (c *Config) ResolveSTTProvider() STTProviderName {
	if c.STT.Provider != "" {
		return c.STT.Provider
	}
	if c.STT.APIKey != "" {
		return STTDeepgram
	}
	return STTOpenAI
}

// ResolveSTTKey returns the credential the effective transcription backend
// should use: its own key when set, else the synthesis key.
func (c *Config) ResolveSTTKey() string {
	if c.STT.APIKey != "" {
		return c.STT.APIKey
	}
	return c.TTS.APIKey
}
