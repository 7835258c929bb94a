// Package config loads process configuration from the environment, optionally
// seeded from a local .env file.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr string
	LogLevel slog.Level

	// Remote voice service
	VoiceServerURL string
	SessionAPIURL  string
	VoiceModel     string
	VoiceName      string
	VoiceProvider  string

	// Audio and barge-in
	SampleRate      int
	FramesPerBuffer int
	VADThreshold    float64
	VADFrames       int
	SettleDelay     time.Duration

	// Connection lifecycle
	ConnectTimeout       time.Duration
	AuthTimeout          time.Duration
	PingInterval         time.Duration
	PongTimeout          time.Duration
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	MinAudioPayload      int

	// Optional auto-authentication at startup
	UserID    string
	UserEmail string
}

// Load reads .env when present, then the process environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("ignoring unreadable .env", "error", err)
	}
	return &Config{
		HTTPAddr: getEnv("HTTP_ADDR", "127.0.0.1:8000"),
		LogLevel: getEnvLevel("LOG_LEVEL", slog.LevelInfo),

		VoiceServerURL: getEnv("VOICE_SERVER_URL", "ws://localhost:8080/ws"),
		SessionAPIURL:  strings.TrimRight(getEnv("SESSION_API_URL", "http://localhost:8080/api"), "/"),
		VoiceModel:     getEnv("VOICE_MODEL", "gpt-4o-realtime"),
		VoiceName:      getEnv("VOICE_NAME", "alloy"),
		VoiceProvider:  getEnv("VOICE_PROVIDER", "openai"),

		SampleRate:      getEnvInt("SAMPLE_RATE", 24000),
		FramesPerBuffer: getEnvInt("FRAMES_PER_BUFFER", 2400),
		VADThreshold:    getEnvFloat("VAD_THRESHOLD", 0.05),
		VADFrames:       getEnvInt("VAD_FRAMES", 3),
		SettleDelay:     getEnvDuration("SETTLE_DELAY", 200*time.Millisecond),

		ConnectTimeout:       getEnvDuration("CONNECT_TIMEOUT", 10*time.Second),
		AuthTimeout:          getEnvDuration("AUTH_TIMEOUT", 10*time.Second),
		PingInterval:         getEnvDuration("PING_INTERVAL", 15*time.Second),
		PongTimeout:          getEnvDuration("PONG_TIMEOUT", 10*time.Second),
		MaxReconnectAttempts: getEnvInt("MAX_RECONNECT_ATTEMPTS", 5),
		ReconnectBaseDelay:   getEnvDuration("RECONNECT_BASE_DELAY", time.Second),
		MinAudioPayload:      getEnvInt("MIN_AUDIO_PAYLOAD", 100),

		UserID:    os.Getenv("USER_ID"),
		UserEmail: os.Getenv("USER_EMAIL"),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			return d
		}
	}
	return def
}

func getEnvLevel(key string, def slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		return def
	}
	return l
}
