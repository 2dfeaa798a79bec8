// Command murmel runs the conversational loop of the Murmel companion
// device: microphone in, transcription, a chat reply, synthesis out.
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

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/lumora/murmel/internal/app"
	"github.com/lumora/murmel/internal/config"
	"github.com/lumora/murmel/internal/observe"
	"github.com/lumora/murmel/pkg/audio/portaudio"
	"github.com/lumora/murmel/pkg/provider/llm"
	"github.com/lumora/murmel/pkg/provider/llm/anyllm"
	"github.com/lumora/murmel/pkg/provider/llm/openai"
	"github.com/lumora/murmel/pkg/provider/stt/whisper"
	"github.com/lumora/murmel/pkg/provider/tts/elevenlabs"
	"github.com/lumora/murmel/pkg/provider/vad"
	"github.com/lumora/murmel/pkg/provider/vad/energy"
	"github.com/lumora/murmel/pkg/provider/vad/silero"
)

// version is stamped by the build via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "murmel.yaml", "path to the YAML configuration file")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("murmel", version)
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "murmel: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "murmel: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("murmel starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "murmel",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	providers, cleanup, err := buildProviders(cfg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	defer cleanup()

	application, err := app.New(ctx, cfg, providers, app.WithLogger(logger), app.WithVersion(version))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("device ready — say something, or press Ctrl+C to shut down")

	runErr := application.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Playback.ShutdownGrace.Std())
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildProviders instantiates the configured backends. The returned cleanup
// closes everything that holds native resources.
func buildProviders(cfg *config.Config) (*app.Providers, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	device := portaudio.New()
	closers = append(closers, func() {
		if err := portaudio.Terminate(); err != nil {
			slog.Warn("portaudio terminate error", "err", err)
		}
	})

	detector, err := buildVAD(cfg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	var sttOpts []whisper.Option
	if cfg.Providers.STT.Language != "" {
		sttOpts = append(sttOpts, whisper.WithLanguage(cfg.Providers.STT.Language))
	}
	transcriber, err := whisper.New(cfg.Providers.STT.ModelPath, sttOpts...)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("create stt provider: %w", err)
	}
	closers = append(closers, func() {
		if err := transcriber.Close(); err != nil {
			slog.Warn("whisper close error", "err", err)
		}
	})

	var ttsOpts []elevenlabs.Option
	if cfg.Providers.TTS.Model != "" {
		ttsOpts = append(ttsOpts, elevenlabs.WithModel(cfg.Providers.TTS.Model))
	}
	synthesizer, err := elevenlabs.New(cfg.Providers.TTS.APIKey, ttsOpts...)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("create tts provider: %w", err)
	}

	chat, err := buildLLM(cfg.Providers.LLM)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("create llm provider: %w", err)
	}

	slog.Info("providers created",
		"vad", cfg.VAD.Engine,
		"stt", cfg.Providers.STT.Name,
		"tts", cfg.Providers.TTS.Name,
		"llm", cfg.Providers.LLM.Name,
	)

	return &app.Providers{
		VAD:    detector,
		STT:    transcriber,
		LLM:    chat,
		TTS:    synthesizer,
		Device: device,
	}, cleanup, nil
}

func buildVAD(cfg *config.Config) (vad.Engine, error) {
	switch cfg.VAD.Engine {
	case "silero":
		return silero.New(cfg.VAD.ModelPath)
	case "energy":
		return energy.New(), nil
	default:
		return nil, fmt.Errorf("unknown vad engine %q", cfg.VAD.Engine)
	}
}

func buildLLM(entry config.LLMConfig) (llm.Provider, error) {
	switch entry.Name {
	case "openai":
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	case "anyllm":
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(entry.Provider, entry.Model, opts...)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", entry.Name)
	}
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
