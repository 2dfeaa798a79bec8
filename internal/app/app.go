// Package app wires the murmel subsystems into one running device process.
//
// New connects providers, backend client, journal, alerting and the turn
// coordinator; Run supervises everything under a single errgroup and blocks
// until the conversation ends or the context is cancelled; Shutdown tears
// down the owned resources.
//
// For testing, inject doubles with the functional options (WithJournal,
// WithBackendClient); New builds real implementations from the config when
// nothing is injected.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/lumora/murmel/internal/alert"
	"github.com/lumora/murmel/internal/analytics"
	"github.com/lumora/murmel/internal/backend"
	"github.com/lumora/murmel/internal/capture"
	"github.com/lumora/murmel/internal/config"
	"github.com/lumora/murmel/internal/health"
	"github.com/lumora/murmel/internal/journal"
	"github.com/lumora/murmel/internal/loop"
	"github.com/lumora/murmel/internal/observe"
	"github.com/lumora/murmel/internal/playback"
	"github.com/lumora/murmel/internal/resilience"
	"github.com/lumora/murmel/internal/state"
	"github.com/lumora/murmel/pkg/audio"
	"github.com/lumora/murmel/pkg/provider/llm"
	"github.com/lumora/murmel/pkg/provider/stt"
	"github.com/lumora/murmel/pkg/provider/tts"
	"github.com/lumora/murmel/pkg/provider/vad"
)

// chatFallbackText is spoken when every chat backend is down.
const chatFallbackText = "Sorry, something went wrong."

// Providers holds the external backends, built by main from the config.
type Providers struct {
	VAD    vad.Engine
	STT    stt.Provider
	LLM    llm.Provider
	TTS    tts.Provider
	Device audio.Device
}

// App owns the subsystem lifetimes of one device process.
type App struct {
	cfg       *config.Config
	providers *Providers
	flags     *state.Flags
	log       *slog.Logger
	metrics   *observe.Metrics
	version   string
	persona   persona

	coordinator *loop.Coordinator
	supervisor  *alert.Supervisor
	network     *alert.NetworkWatcher
	gate        *backend.Gate
	heartbeat   *backend.Heartbeater
	journal     journal.Store
	client      *backend.Client
	admin       *http.Server

	// closers run in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option configures New. Use these to inject test doubles.
type Option func(*App)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithJournal injects a journal store instead of opening one from config.
func WithJournal(s journal.Store) Option {
	return func(a *App) { a.journal = s }
}

// WithBackendClient injects a fleet client instead of building one from
// config.
func WithBackendClient(c *backend.Client) Option {
	return func(a *App) { a.client = c }
}

// WithVersion sets the firmware version reported in heartbeats.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// deferredSpeaker breaks the construction cycle between the alert notifier
// and the coordinator: the notifier needs a voice, and the voice is the
// coordinator, which in turn needs the alert supervisor.
type deferredSpeaker struct {
	v atomic.Value // alert.Speaker
}

func (d *deferredSpeaker) set(s alert.Speaker) { d.v.Store(s) }

func (d *deferredSpeaker) Say(ctx context.Context, text string) error {
	s, ok := d.v.Load().(alert.Speaker)
	if !ok {
		return nil
	}
	return s.Say(ctx, text)
}

// New wires the application. cfg must already be validated.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	switch {
	case providers == nil:
		return nil, errors.New("app: providers must not be nil")
	case providers.Device == nil:
		return nil, errors.New("app: audio device must not be nil")
	case providers.VAD == nil:
		return nil, errors.New("app: vad engine must not be nil")
	case providers.STT == nil:
		return nil, errors.New("app: stt provider must not be nil")
	case providers.LLM == nil:
		return nil, errors.New("app: llm provider must not be nil")
	case providers.TTS == nil:
		return nil, errors.New("app: tts provider must not be nil")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		flags:     state.New(),
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if a.client == nil && cfg.Backend.BaseURL != "" {
		client, err := backend.New(backend.Config{
			BaseURL:   cfg.Backend.BaseURL,
			APIKey:    cfg.Backend.APIKey,
			DeviceMAC: cfg.Backend.DeviceMAC,
			Timeout:   cfg.Backend.Timeout.Std(),
		}, backend.WithLogger(a.log), backend.WithMetrics(a.metrics))
		if err != nil {
			return nil, fmt.Errorf("app: backend client: %w", err)
		}
		a.client = client
	}

	if a.journal == nil {
		store, err := journal.Open(ctx, cfg.Journal.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("app: open journal: %w", err)
		}
		a.journal = store
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
	}

	player, err := playback.New(providers.Device, a.flags, playback.Config{
		SampleRate:      cfg.Audio.PlaybackSampleRate,
		PrebufferMs:     cfg.Playback.PrebufferMs,
		BlockBytes:      cfg.Audio.WriteBlockBytes,
		PollGranularity: cfg.Alerts.PollGranularity.Std(),
	}, playback.WithLogger(a.log), playback.WithMetrics(a.metrics))
	if err != nil {
		return nil, fmt.Errorf("app: playback streamer: %w", err)
	}

	// Tones go through the streamer so a cue can never open the output
	// device in the middle of a reply.
	a.persona = resolvePersona(ctx, a.client, cfg, a.log)

	speaker := &deferredSpeaker{}
	notifier := alert.NewAudioNotifier(
		player, speaker, cfg.Audio.PlaybackSampleRate, cfg.Alerts.Tones, a.log)

	a.supervisor = alert.NewSupervisor(a.flags, notifier,
		alert.WithLogger(a.log),
		alert.WithMetrics(a.metrics),
		alert.WithGranularity(cfg.Alerts.PollGranularity.Std()))

	a.network = alert.NewNetworkWatcher(alert.NetworkConfig{
		ProbeAddr:     cfg.Network.ProbeAddr,
		ProbeTimeout:  cfg.Network.ProbeTimeout.Std(),
		PollInterval:  cfg.Network.PollInterval.Std(),
		AnnounceAfter: cfg.Network.OfflineAnnounceAfter.Std(),
	}, a.flags, notifier,
		alert.WithNetworkLogger(a.log),
		alert.WithNetworkMetrics(a.metrics))

	a.gate = backend.NewGate(a.client, cfg.Backend.ParentalPollInterval.Std(), a.log)
	a.heartbeat = backend.NewHeartbeater(a.client, cfg.Backend.HeartbeatInterval.Std(), a.deviceMetadata, a.log)

	recorder, err := capture.New(providers.Device, providers.VAD, a.flags, capture.Config{
		SampleRate:       cfg.Audio.CaptureSampleRate,
		FrameMs:          cfg.Audio.FrameMs,
		WarmupFrames:     cfg.Audio.WarmupFrames,
		SpeechThreshold:  cfg.VAD.SpeechThreshold,
		SilenceThreshold: cfg.VAD.SilenceThreshold,
	}, capture.WithLogger(a.log))
	if err != nil {
		return nil, fmt.Errorf("app: capture session: %w", err)
	}
	a.closers = append(a.closers, recorder.Close)

	// Analytics runs on the raw provider: when the chat backend is down the
	// extraction should fail and be dropped, not parse a canned phrase.
	extractor, err := analytics.New(providers.LLM, a.log)
	if err != nil {
		return nil, fmt.Errorf("app: analytics extractor: %w", err)
	}

	chat := resilience.NewReliableLLM(
		providers.LLM, cfg.Providers.LLM.Name, chatFallbackText, resilience.ChainConfig{}, a.log)

	deps := loop.Deps{
		Recorder:   recorder,
		STT:        providers.STT,
		LLM:        chat,
		TTS:        providers.TTS,
		Player:     player,
		Supervisor: a.supervisor,
		Flags:      a.flags,
		Gate:       a.gate,
		Extractor:  extractor,
		Journal:    a.journal,
		Voice: tts.VoiceProfile{
			ID:         a.persona.VoiceID,
			SampleRate: cfg.Audio.PlaybackSampleRate,
		},
	}
	if a.client != nil {
		deps.Backend = a.client
	}

	coordinator, err := loop.New(deps, loop.Config{
		MaxRecording:         cfg.Turn.MaxRecording.Std(),
		TrailingSilence:      cfg.Turn.TrailingSilence.Std(),
		SampleRate:           cfg.Audio.CaptureSampleRate,
		Language:             a.persona.Language,
		NoSpeechLimit:        cfg.Turn.NoSpeechLimit,
		GateListenOnPlayback: cfg.Turn.GateListenOnPlayback,
		PlaybackWait:         cfg.Turn.PlaybackWait.Std(),
		ExitOnFirstSilence:   cfg.Turn.ExitOnFirstSilence,
		ExitKeywords:         cfg.Turn.ExitKeywords,
		SystemPrompt:         a.persona.SystemPrompt,
		Greeting:             cfg.Turn.Greeting,
		GreetingInterval:     cfg.Turn.GreetingInterval.Std(),
		Deadline: playback.DeadlinePolicy{
			CharsPerSecond: cfg.Playback.Deadline.CharsPerSecond,
			Overhead:       cfg.Playback.Deadline.Overhead.Std(),
			Min:            cfg.Playback.Deadline.Min.Std(),
			Max:            cfg.Playback.Deadline.Max.Std(),
		},
		TranscribeWarn:    cfg.Alerts.TranscribeWarn.Std(),
		ReasonWarn:        cfg.Alerts.ReasonWarn.Std(),
		PlaybackStartWarn: cfg.Alerts.PlaybackStartWarn.Std(),
		MicOpenWarn:       cfg.Alerts.MicOpenWarn.Std(),
		PollGranularity:   cfg.Alerts.PollGranularity.Std(),
	}, loop.WithLogger(a.log), loop.WithMetrics(a.metrics))
	if err != nil {
		return nil, fmt.Errorf("app: coordinator: %w", err)
	}
	a.coordinator = coordinator
	speaker.set(coordinator)

	if cfg.Server.ListenAddr != "" {
		a.admin = a.buildAdminServer()
	}

	return a, nil
}

// buildAdminServer assembles the health + metrics endpoint.
func (a *App) buildAdminServer() *http.Server {
	checks := []health.Check{
		health.NetworkOnline(a.network),
		health.AudioDevice(a.providers.Device, a.cfg.Audio.PlaybackSampleRate),
	}
	if a.client != nil {
		checks = append(checks, health.BackendReachable(a.client))
	}

	mux := http.NewServeMux()
	health.New(checks...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// deviceMetadata builds the heartbeat payload.
func (a *App) deviceMetadata() backend.Metadata {
	host, _ := os.Hostname()
	return backend.Metadata{
		BoardName:   host,
		Online:      a.network.Online(),
		FirmwareVer: a.version,
	}
}

// Run starts the background tasks and the turn loop, then blocks until the
// conversation ends (exit keyword, fatal device error) or ctx is cancelled.
func (a *App) Run(parent context.Context) error {
	runCtx, cancel := context.WithCancel(parent)
	defer cancel()

	g, ctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return a.network.Run(ctx) })
	g.Go(func() error { return a.gate.Run(ctx) })
	g.Go(func() error { return a.heartbeat.Run(ctx) })

	if a.admin != nil {
		g.Go(func() error {
			a.log.Info("admin endpoint listening", "addr", a.admin.Addr)
			if err := a.admin.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: admin server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), a.cfg.Playback.ShutdownGrace.Std())
			defer scancel()
			return a.admin.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		defer cancel()
		defer a.flags.RequestStop()
		return a.coordinator.Run(ctx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	a.waitPlaybackSettle()
	a.supervisor.Wait()
	return err
}

// waitPlaybackSettle gives an in-flight playback session up to the shutdown
// grace period to observe the stop flag and release the device.
func (a *App) waitPlaybackSettle() {
	grace := a.cfg.Playback.ShutdownGrace.Std()
	step := a.cfg.Alerts.PollGranularity.Std()
	if step <= 0 {
		step = 50 * time.Millisecond
	}
	deadline := time.Now().Add(grace)
	for a.flags.TTSActive() && time.Now().Before(deadline) {
		time.Sleep(step)
	}
	if a.flags.TTSActive() {
		a.log.Warn("playback still active after shutdown grace", "grace", grace)
	}
}

// Shutdown releases owned resources. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.flags.RequestStop()
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "error", err)
			}
		}
	})
	return shutdownErr
}
