package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, overlays environment
// variables, fills defaults and validates the result. A missing file is not
// an error: the configuration is then built from environment alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		f, err := os.Open(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// env-only deployment
		case err != nil:
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		default:
			defer f.Close()
			cfg, err = decode(f)
			if err != nil {
				return nil, fmt.Errorf("config: parse %q: %w", path, err)
			}
		}
	}
	ApplyEnv(cfg)
	cfg.Defaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// the result. The environment is not consulted; useful in tests where configs
// are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.Defaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables onto cfg. A set variable always
// wins over the file value; unset variables leave cfg untouched.
func ApplyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setInt("PORT", &cfg.Server.Port)
	setString("PUBLIC_URL", &cfg.Server.PublicURL)
	setString("LOG_LEVEL", (*string)(&cfg.Server.LogLevel))

	setString("PHONE_PROVIDER", (*string)(&cfg.Phone.Provider))
	setString("PHONE_ACCOUNT_SID", &cfg.Phone.AccountSid)
	setString("PHONE_AUTH_TOKEN", &cfg.Phone.AuthToken)
	setString("PHONE_NUMBER", &cfg.Phone.Number)
	setString("USER_PHONE_NUMBER", &cfg.Phone.UserNumber)
	setString("TELNYX_PUBLIC_KEY", &cfg.Phone.TelnyxPublicKey)

	setString("TTS_API_KEY", &cfg.TTS.APIKey)
	setString("TTS_BASE_URL", &cfg.TTS.BaseURL)
	setString("TTS_MODEL", &cfg.TTS.Model)
	setString("TTS_VOICE", &cfg.TTS.Voice)
	setInt("TTS_SAMPLE_RATE", &cfg.TTS.SampleRate)

	setString("STT_PROVIDER", (*string)(&cfg.STT.Provider))
	setString("STT_API_KEY", &cfg.STT.APIKey)
	setString("STT_MODEL", &cfg.STT.Model)
	setString("STT_LANGUAGE", &cfg.STT.Language)
	setInt("STT_SILENCE_DURATION_MS", &cfg.STT.SilenceDurationMS)

	setInt("TRANSCRIPT_TIMEOUT_MS", &cfg.Call.TranscriptTimeoutMS)
	setInt("MAX_CALL_DURATION_MS", &cfg.Call.MaxDurationMS)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range [1, 65535]", cfg.Server.Port))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.PublicURL == "" {
		errs = append(errs, errors.New("server.public_url is required: the carrier must be able to reach this service"))
	} else if u, err := url.Parse(cfg.Server.PublicURL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("server.public_url %q is not an absolute http(s) URL", cfg.Server.PublicURL))
	}

	if cfg.Phone.Provider == "" {
		errs = append(errs, errors.New("phone.provider is required; valid values: twilio, telnyx"))
	} else if !cfg.Phone.Provider.IsValid() {
		errs = append(errs, fmt.Errorf("phone.provider %q is invalid; valid values: twilio, telnyx", cfg.Phone.Provider))
	}
	if cfg.Phone.AccountSid == "" {
		errs = append(errs, errors.New("phone.account_sid is required"))
	}
	if cfg.Phone.AuthToken == "" {
		errs = append(errs, errors.New("phone.auth_token is required"))
	}
	if cfg.Phone.Number == "" {
		errs = append(errs, errors.New("phone.number is required"))
	}
	if cfg.Phone.UserNumber == "" {
		errs = append(errs, errors.New("phone.user_number is required"))
	}

	if cfg.TTS.APIKey == "" {
		errs = append(errs, errors.New("tts.api_key is required"))
	}
	if cfg.TTS.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("tts.sample_rate %d must not be negative", cfg.TTS.SampleRate))
	}

	if cfg.STT.Provider != "" && !cfg.STT.Provider.IsValid() {
		errs = append(errs, fmt.Errorf("stt.provider %q is invalid; valid values: openai, deepgram", cfg.STT.Provider))
	}
	if cfg.STT.Provider == STTDeepgram && cfg.STT.APIKey == "" {
		errs = append(errs, errors.New("stt.api_key is required when stt.provider is deepgram"))
	}
	if cfg.ResolveSTTKey() == "" {
		errs = append(errs, errors.New("no transcription credential: set stt.api_key or tts.api_key"))
	}
	if cfg.STT.SilenceDurationMS < 0 {
		errs = append(errs, fmt.Errorf("stt.silence_duration_ms %d must not be negative", cfg.STT.SilenceDurationMS))
	}

	if cfg.Call.TranscriptTimeoutMS < 0 {
		errs = append(errs, fmt.Errorf("call.transcript_timeout_ms %d must not be negative", cfg.Call.TranscriptTimeoutMS))
	}
	if cfg.Call.MaxDurationMS < 0 {
		errs = append(errs, fmt.Errorf("call.max_duration_ms %d must not be negative", cfg.Call.MaxDurationMS))
	}

	return errors.Join(errs...)
}
