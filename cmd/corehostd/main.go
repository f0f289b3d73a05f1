// Command corehostd drives the audio plugin host engine end to end: it
// wires the RT queues, the engine, the dispatcher, the worker, the admin
// HTTP surface, and telemetry, then feeds the engine from an offline WAV
// file so the whole pipeline can run without real audio hardware.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fluxaudio/corehost/internal/api"
	"github.com/fluxaudio/corehost/internal/audioio"
	"github.com/fluxaudio/corehost/internal/config"
	"github.com/fluxaudio/corehost/internal/dispatch"
	"github.com/fluxaudio/corehost/internal/enginecore"
	"github.com/fluxaudio/corehost/internal/frontend"
	"github.com/fluxaudio/corehost/internal/plugins"
	"github.com/fluxaudio/corehost/internal/rtqueue"
	"github.com/fluxaudio/corehost/internal/telemetry"
	"github.com/fluxaudio/corehost/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "corehostd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := newLogger(cfg)
	startTime := time.Now()

	jwtSecret, err := cfg.JWTSecretBytes()
	if err != nil {
		return fmt.Errorf("resolving jwt secret: %w", err)
	}

	store, err := telemetry.OpenStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("opening telemetry store: %w", err)
	}
	defer store.Close()
	recorder := telemetry.NewRecorder(store, logger)

	inRT := rtqueue.New(cfg.RTQueueCapacity)
	outRT := rtqueue.New(cfg.RTQueueCapacity)
	ids := enginecore.NewIDGenerator()

	engine := enginecore.NewEngine(inRT, outRT, ids)
	engine.SetSampleRate(cfg.SampleRate)
	engine.SetBlockSize(cfg.BlockSize)

	timer := enginecore.NewTimer(cfg.SampleRate, cfg.BlockSize)
	policy := dispatch.DeliverASAP
	if cfg.LateEventPolicy == "drop" {
		policy = dispatch.DropLate
	}

	disp := dispatch.New(logger, time.Duration(cfg.DispatcherTickMS)*time.Millisecond, timer, inRT, outRT, policy)

	wk := worker.New(logger, engine, disp.Post, time.Duration(cfg.WorkerTickMS)*time.Millisecond,
		time.Duration(cfg.TimingReportInterval)*time.Second, recorder)
	disp.RegisterPoster(wk)

	fe := frontend.New(logger, engine, inRT, disp.Post, ids, plugins.Factory(2), frontend.DefaultLimiterConfig(),
		func() enginecore.Time { return enginecore.Time(time.Since(startTime).Microseconds()) })

	registry := prometheus.NewRegistry()
	collector := telemetry.NewCollector(inRT, outRT, engine, disp, wk, startTime)
	registry.MustRegister(collector)

	srv := api.NewServer(api.Config{
		Addr:        fmt.Sprintf(":%d", cfg.HTTPPort),
		JWTSecret:   jwtSecret,
		CORSOrigins: cfg.CORSOrigins,
		TLSEnabled:  false,
	}, logger, engine, fe, registry)

	disp.Start()
	wk.Start()
	srv.Start()
	logger.Info("corehostd started", "http_port", cfg.HTTPPort, "sample_rate", cfg.SampleRate, "block_size", cfg.BlockSize)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.InputWAV != "" && cfg.OutputWAV != "" {
		go runOfflinePipeline(ctx, logger, engine, disp, store, cfg)
	} else {
		logger.Info("no input/output wav configured; engine idle, admin API reachable")
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("admin server shutdown error", "error", err)
	}
	wk.Stop()
	disp.Stop()
	fe.Stop()

	return nil
}

// runOfflinePipeline drives the engine one block at a time from a WAV file,
// the way a real host would be driven by its audio callback, until the
// input is exhausted or ctx is cancelled.
func runOfflinePipeline(ctx context.Context, logger *slog.Logger, engine *enginecore.Engine, disp *dispatch.Dispatcher, store *telemetry.Store, cfg *config.Config) {
	backend, err := audioio.Open(cfg.InputWAV, cfg.OutputWAV, 2, cfg.BlockSize, cfg.SampleRate)
	if err != nil {
		logger.Error("opening audio backend", "error", err)
		recordFatal(store, "audio_backend_open", err)
		return
	}
	defer backend.Close()

	in := make(enginecore.SampleBuffer, 2)
	out := make(enginecore.SampleBuffer, 2)
	for ch := range in {
		in[ch] = make([]float32, cfg.BlockSize)
		out[ch] = make([]float32, cfg.BlockSize)
	}

	// A Processor's PostEvent calls forward into the dispatcher's normal
	// in_queue as an async-work-completion Event, the same path any other
	// non-RT producer uses (spec §4.5).
	host := engine.NewHost(func(ev enginecore.NonRtEvent) {
		disp.Post(dispatch.NewEvent(dispatch.EventAsyncWorkCompletion, dispatch.PosterController, ev.Time, ev.Payload))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		blockStart := backend.UsecSinceStart()
		ok, err := backend.NextBlock(in)
		if err != nil {
			logger.Error("reading input block", "error", err)
			recordFatal(store, "audio_read", err)
			return
		}
		if !ok {
			logger.Info("offline pipeline finished: input exhausted")
			return
		}

		engine.UpdateTime(blockStart)
		engine.ProcessChunk(in, out, host)

		if err := backend.WriteBlock(out); err != nil {
			logger.Error("writing output block", "error", err)
			recordFatal(store, "audio_write", err)
			return
		}
	}
}

func recordFatal(store *telemetry.Store, kind string, err error) {
	if recErr := store.RecordFatal(kind, err.Error()); recErr != nil {
		fmt.Fprintln(os.Stderr, "corehostd: failed to record fatal condition:", recErr)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)
	return logger
}

