// voicelink server - runs the voice call client and exposes its controls over HTTP and WebSocket
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GriffinCanCode/voicelink/internal/audio"
	"github.com/GriffinCanCode/voicelink/internal/config"
	"github.com/GriffinCanCode/voicelink/internal/orchestrator"
	"github.com/GriffinCanCode/voicelink/internal/server"
	"github.com/GriffinCanCode/voicelink/internal/session"
	"github.com/GriffinCanCode/voicelink/internal/transport"
)

func main() {
	cfg := config.Load()

	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	sessions := session.New(session.Options{BaseURL: cfg.SessionAPIURL})

	voice := transport.New(transport.Options{
		URL:                  cfg.VoiceServerURL,
		ConnectTimeout:       cfg.ConnectTimeout,
		AuthTimeout:          cfg.AuthTimeout,
		PingInterval:         cfg.PingInterval,
		PongTimeout:          cfg.PongTimeout,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		ReconnectBaseDelay:   cfg.ReconnectBaseDelay,
		MinAudioPayload:      cfg.MinAudioPayload,
	})

	format := audio.DefaultFormat()
	format.SampleRate = cfg.SampleRate
	format.FramesPerBuffer = cfg.FramesPerBuffer
	pipeline := audio.NewPipeline(audio.NewPortAudioDevice(), format, cfg.SettleDelay)
	defer func() { _ = pipeline.Close() }()

	calls := orchestrator.New(voice, pipeline, sessions, orchestrator.Options{
		Model:        cfg.VoiceModel,
		Voice:        cfg.VoiceName,
		Provider:     cfg.VoiceProvider,
		VADThreshold: cfg.VADThreshold,
		VADFrames:    cfg.VADFrames,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	calls.Start(ctx)

	if err := calls.Initialize(ctx); err != nil {
		slog.Warn("audio device unavailable, will retry at call start", "error", err)
	}
	if cfg.UserID != "" && cfg.UserEmail != "" {
		if err := calls.Authenticate(ctx, cfg.UserID, cfg.UserEmail); err != nil {
			slog.Warn("startup authentication failed", "user_id", cfg.UserID, "error", err)
		}
	}

	srv := server.New(calls)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("voicelink server starting", "http", cfg.HTTPAddr, "voice_server", cfg.VoiceServerURL)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	slog.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := calls.EndCall(shutdownCtx); err != nil {
		slog.Warn("end call on shutdown", "error", err)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	cancel()
	<-calls.Done()
	slog.Info("shutdown complete")
}
