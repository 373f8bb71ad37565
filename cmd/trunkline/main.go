// Command trunkline is the voice-call bridge server: it places outbound
// telephone calls on behalf of an agent and conducts multi-turn spoken
// conversations over a carrier media stream.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/trunkline/internal/call"
	"github.com/MrWong99/trunkline/internal/config"
	"github.com/MrWong99/trunkline/internal/health"
	"github.com/MrWong99/trunkline/internal/observe"
	"github.com/MrWong99/trunkline/internal/resilience"
	"github.com/MrWong99/trunkline/internal/server"
	"github.com/MrWong99/trunkline/pkg/provider/stt"
	sttdeepgram "github.com/MrWong99/trunkline/pkg/provider/stt/deepgram"
	sttopenai "github.com/MrWong99/trunkline/pkg/provider/stt/openai"
	"github.com/MrWong99/trunkline/pkg/provider/telephony"
	"github.com/MrWong99/trunkline/pkg/provider/telephony/telnyx"
	"github.com/MrWong99/trunkline/pkg/provider/telephony/twilio"
	"github.com/MrWong99/trunkline/pkg/provider/tts"
	ttsopenai "github.com/MrWong99/trunkline/pkg/provider/tts/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file (optional; environment overrides apply)")
	watch := flag.Bool("watch-config", false, "hot-reload the configuration file on change")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trunkline: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("trunkline starting",
		"config", *configPath,
		"port", cfg.Server.Port,
		"public_url", cfg.Server.PublicURL,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "trunkline"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	tel, err := reg.CreateTelephony(cfg)
	if err != nil {
		slog.Error("failed to create telephony provider", "name", cfg.Phone.Provider, "err", err)
		return 1
	}
	ttsProv, err := reg.CreateTTS("openai", cfg)
	if err != nil {
		slog.Error("failed to create synthesis provider", "err", err)
		return 1
	}

	// A custom OpenAI-compatible endpoint gets the hosted API as a synthesis
	// fallback, so one flaky self-hosted TTS box does not kill the call.
	if cfg.TTS.BaseURL != "" {
		hosted, err := ttsopenai.New(cfg.TTS.APIKey,
			ttsopenai.WithModel(cfg.TTS.Model),
		)
		if err != nil {
			slog.Warn("hosted synthesis fallback unavailable", "err", err)
		} else {
			chain := resilience.NewTTSFallback(ttsProv, resilience.FallbackConfig{})
			chain.AddFallback(hosted)
			ttsProv = chain
		}
	}
	sttProv, err := reg.CreateSTT(cfg)
	if err != nil {
		slog.Error("failed to create transcription provider", "name", cfg.ResolveSTTProvider(), "err", err)
		return 1
	}

	// When a dedicated Deepgram key is configured we also hold an OpenAI key
	// (tts.api_key is mandatory), so run both transcription backends as a
	// failover chain with the dedicated backend as primary.
	if cfg.STT.APIKey != "" && cfg.ResolveSTTProvider() == config.STTDeepgram {
		secondary, err := sttopenai.New(cfg.TTS.APIKey)
		if err != nil {
			slog.Warn("secondary transcription backend unavailable", "err", err)
		} else {
			chain := resilience.NewSTTFallback(sttProv, resilience.FallbackConfig{})
			chain.AddFallback(secondary)
			sttProv = chain
		}
	}

	printStartupSummary(cfg, tel, ttsProv, sttProv)

	// ── Call manager ──────────────────────────────────────────────────────────
	mgr := call.NewManager(call.ManagerConfig{
		From:      cfg.Phone.Number,
		To:        cfg.Phone.UserNumber,
		PublicURL: cfg.Server.PublicURL,
		Language:  cfg.STT.Language,
		Timeouts:  timeoutsFromConfig(cfg),
	}, tel, ttsProv, sttProv, metrics, logger)

	// ── Optional config hot-reload ────────────────────────────────────────────
	if *watch {
		watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			d := config.Diff(old, new)
			if d.Empty() {
				return
			}
			if d.LogLevelChanged {
				logLevel.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level updated", "level", d.NewLogLevel)
			}
			if d.TimingChanged {
				mgr.UpdateTimeouts(timeoutsFromConfig(new))
				slog.Info("call timing updated; applies to calls placed from now on")
			}
			if d.VoiceChanged {
				slog.Warn("tts voice/model changed; restart required to apply")
			}
		})
		if err != nil {
			slog.Error("failed to start config watcher", "err", err)
			return 1
		}
		defer watcher.Stop()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	healthHandler := health.New(map[string]string{
		"phone": tel.Name(),
		"tts":   ttsProv.Name(),
		"stt":   sttProv.Name(),
	}, mgr.Active)

	srv := server.New(fmt.Sprintf(":%d", cfg.Server.Port), mgr, tel, logger,
		server.WithMetrics(metrics),
		server.WithHealthHandler(healthHandler),
	)

	slog.Info("server ready — press Ctrl+C to shut down")
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the carrier, synthesis and transcription
// factories that ship with trunkline into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Telephony ─────────────────────────────────────────────────────────────

	reg.RegisterTelephony(config.PhoneTwilio, func(cfg *config.Config) (telephony.Provider, error) {
		return twilio.New(cfg.Phone.AccountSid, cfg.Phone.AuthToken,
			twilio.WithPublicURL(cfg.Server.PublicURL))
	})

	reg.RegisterTelephony(config.PhoneTelnyx, func(cfg *config.Config) (telephony.Provider, error) {
		var opts []telnyx.Option
		if cfg.Phone.TelnyxPublicKey != "" {
			opts = append(opts, telnyx.WithPublicKey(cfg.Phone.TelnyxPublicKey))
		}
		return telnyx.New(cfg.Phone.AuthToken, cfg.Phone.AccountSid, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(cfg *config.Config) (tts.Provider, error) {
		opts := []ttsopenai.Option{ttsopenai.WithModel(cfg.TTS.Model)}
		if cfg.TTS.Voice != "" {
			opts = append(opts, ttsopenai.WithVoice(cfg.TTS.Voice))
		}
		if cfg.TTS.BaseURL != "" {
			opts = append(opts, ttsopenai.WithBaseURL(cfg.TTS.BaseURL))
		}
		if cfg.TTS.SampleRate > 0 {
			opts = append(opts, ttsopenai.WithSampleRate(cfg.TTS.SampleRate))
		}
		return ttsopenai.New(cfg.TTS.APIKey, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT(config.STTDeepgram, func(cfg *config.Config) (stt.Provider, error) {
		var opts []sttdeepgram.Option
		if cfg.STT.Model != "" {
			opts = append(opts, sttdeepgram.WithModel(cfg.STT.Model))
		}
		if cfg.STT.Language != "" {
			opts = append(opts, sttdeepgram.WithLanguage(cfg.STT.Language))
		}
		return sttdeepgram.New(cfg.ResolveSTTKey(), opts...)
	})

	reg.RegisterSTT(config.STTOpenAI, func(cfg *config.Config) (stt.Provider, error) {
		var opts []sttopenai.Option
		if cfg.STT.Model != "" {
			opts = append(opts, sttopenai.WithModel(cfg.STT.Model))
		}
		return sttopenai.New(cfg.ResolveSTTKey(), opts...)
	})
}

func timeoutsFromConfig(cfg *config.Config) call.Timeouts {
	return call.Timeouts{
		Transcript: time.Duration(cfg.Call.TranscriptTimeoutMS) * time.Millisecond,
		MaxCall:    time.Duration(cfg.Call.MaxDurationMS) * time.Millisecond,
		Silence:    time.Duration(cfg.STT.SilenceDurationMS) * time.Millisecond,
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, tel telephony.Provider, ttsProv tts.Provider, sttProv stt.Provider) {
	slog.Info("providers configured",
		"phone", tel.Name(),
		"tts", ttsProv.Name(),
		"tts_model", cfg.TTS.Model,
		"stt", sttProv.Name(),
		"stt_model", cfg.STT.Model,
	)
	slog.Info("numbers configured",
		"from", cfg.Phone.Number,
		"to", cfg.Phone.UserNumber,
	)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
