package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// Config contains all runtime settings for the telephony bridge service.
type Config struct {
	BindAddr           string
	PublicHost         string
	ShutdownTimeout    time.Duration
	SessionIdleTimeout time.Duration
	MetricsNamespace   string

	AllowAnyOrigin bool

	LogLevel  string
	LogPretty bool

	ModelWSBaseURL     string
	ModelName          string
	ModelAPIKey        string
	ModelDialTimeout   time.Duration
	Voice              string
	Instructions       string
	TurnDetection      string
	InputAudioFormat   string
	OutputAudioFormat  string
	TranscriptionModel string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		PublicHost:       stringsTrimSpace("APP_PUBLIC_HOST"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "voxbridge"),
		AllowAnyOrigin:   false,
		LogLevel:         envOrDefault("APP_LOG_LEVEL", "info"),
		LogPretty:        false,
		ModelWSBaseURL:   envOrDefault("MODEL_WS_BASE_URL", "wss://api.openai.com"),
		ModelName:        envOrDefault("MODEL_NAME", "gpt-4o-realtime-preview-2024-10-01"),
		ModelAPIKey:      stringsTrimSpace("OPENAI_API_KEY"),
		// Default to a neutral premade voice for phone calls.
		Voice: envOrDefault("MODEL_VOICE", "alloy"),
		Instructions: envOrDefault("MODEL_INSTRUCTIONS",
			"You are a helpful phone assistant. Keep answers short and conversational."),
		// The backend detects end of caller speech; the bridge only reacts
		// to the speech_started signal for barge-in.
		TurnDetection: envOrDefault("MODEL_TURN_DETECTION", "server_vad"),
		// Twilio media streams carry 8kHz mu-law in both directions.
		InputAudioFormat:   envOrDefault("MODEL_INPUT_AUDIO_FORMAT", "g711_ulaw"),
		OutputAudioFormat:  envOrDefault("MODEL_OUTPUT_AUDIO_FORMAT", "g711_ulaw"),
		TranscriptionModel: envOrDefault("MODEL_TRANSCRIPTION_MODEL", "whisper-1"),
		DatabaseURL:        stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:    15 * time.Second,
		SessionIdleTimeout: 5 * time.Minute,
		ModelDialTimeout:   10 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionIdleTimeout, err = durationFromEnv("APP_SESSION_IDLE_TIMEOUT", cfg.SessionIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ModelDialTimeout, err = durationFromEnv("MODEL_DIAL_TIMEOUT", cfg.ModelDialTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.LogPretty, err = boolFromEnv("APP_LOG_PRETTY", cfg.LogPretty)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionIdleTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_IDLE_TIMEOUT must be at least 5s")
	}
	if cfg.ModelDialTimeout <= 0 {
		return Config{}, fmt.Errorf("MODEL_DIAL_TIMEOUT must be positive")
	}
	if strings.TrimSpace(cfg.ModelName) == "" {
		return Config{}, fmt.Errorf("MODEL_NAME must not be empty")
	}
	if _, err := url.Parse(cfg.ModelWSBaseURL); err != nil {
		return Config{}, fmt.Errorf("MODEL_WS_BASE_URL parse error: %w", err)
	}

	return cfg, nil
}

// ModelURL returns the realtime endpoint the model connector dials.
func (c Config) ModelURL() string {
	return strings.TrimRight(c.ModelWSBaseURL, "/") + "/v1/realtime?model=" + url.QueryEscape(c.ModelName)
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
