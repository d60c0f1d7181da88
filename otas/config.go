package otas

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

const (
	defaultAuthEndpoint   = "https://api.getotas.com/api/sdk/authenticate"
	defaultIngestEndpoint = "https://api.getotas.com/api/sdk/ingest"

	authTimeout     = 10 * time.Second
	dispatchTimeout = 2 * time.Second

	defaultQueueSize          = 5000
	defaultMaxConcurrentSends = 5

	envSDKKey           = "OTAS_SDK_KEY"
	envSensitiveHeaders = "OTAS_SENSITIVE_HEADERS"
)

// Config controls a Client. Only SDKKey is required; zero values for the
// rest fall back to production defaults.
type Config struct {
	// SDKKey authenticates this process against the OTAS platform.
	SDKKey string

	// SensitiveHeaders are extra header names to redact, merged with the
	// built-in set. Matching is case-insensitive.
	SensitiveHeaders []string

	// AuthEndpoint and IngestEndpoint override the platform URLs, mainly
	// for tests and self-hosted deployments.
	AuthEndpoint   string
	IngestEndpoint string

	// Enabled defaults to true. A disabled client never authenticates and
	// turns every middleware into a pass-through.
	Enabled *bool

	QueueSize          int
	MaxConcurrentSends int
	HTTPClient         *http.Client
	Logger             *zerolog.Logger
}

// ConfigFromEnv builds a Config from OTAS_SDK_KEY and, optionally,
// OTAS_SENSITIVE_HEADERS (comma-separated header names). A missing key is
// reported by New, not here, so callers can still override programmatically.
func ConfigFromEnv() Config {
	v := viper.New()
	v.AutomaticEnv()
	_ = v.BindEnv(envSDKKey)
	_ = v.BindEnv(envSensitiveHeaders)

	return Config{
		SDKKey:           v.GetString(envSDKKey),
		SensitiveHeaders: splitHeaderList(v.GetString(envSensitiveHeaders)),
	}
}

func splitHeaderList(raw string) []string {
	if raw == "" {
		return nil
	}
	var names []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names
}

func (cfg Config) withDefaults() Config {
	if cfg.AuthEndpoint == "" {
		cfg.AuthEndpoint = defaultAuthEndpoint
	}
	if cfg.IngestEndpoint == "" {
		cfg.IngestEndpoint = defaultIngestEndpoint
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.MaxConcurrentSends <= 0 {
		cfg.MaxConcurrentSends = defaultMaxConcurrentSends
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: authTimeout}
	}
	if cfg.Logger == nil {
		nop := zerolog.Nop()
		cfg.Logger = &nop
	}
	return cfg
}
