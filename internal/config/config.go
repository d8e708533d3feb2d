// Package config loads process configuration from the environment,
// generalizing the teacher's fail-fast env() loader to the larger
// configuration surface this service needs.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Addr    string
	BaseURL string
	AppURL  string

	DatabasePath string

	MaxWorkspaceStorageBytes int64
	FileMaxSizeBytes         int64

	AllowHTTPWebhooks bool

	TrustProxyHeaders           bool
	TrustSingleXForwardedFor    bool
	TrustedProxySharedSecretHdr string
	TrustedProxySharedSecret    string

	TestMode bool

	SessionSigningKey string
}

const (
	defaultMaxWorkspaceStorageBytes = 100 * 1024 * 1024 // 100 MiB
	defaultFileMaxSizeBytes         = 10 * 1024 * 1024   // 10 MiB
)

func Load() (Config, error) {
	cfg := Config{
		Addr:         env("MDPLANE_ADDR", ":8080"),
		BaseURL:      strings.TrimRight(env("BASE_URL", ""), "/"),
		AppURL:       strings.TrimRight(env("APP_URL", ""), "/"),
		DatabasePath: env("MDPLANE_DB_PATH", "data/mdplane.sqlite"),

		AllowHTTPWebhooks: envBool("ALLOW_HTTP_WEBHOOKS", false),

		TrustProxyHeaders:           envBool("MDPLANE_TRUST_PROXY_HEADERS", false),
		TrustSingleXForwardedFor:    envBool("MDPLANE_TRUST_SINGLE_XFF", false),
		TrustedProxySharedSecretHdr: env("MDPLANE_PROXY_SECRET_HEADER", ""),
		TrustedProxySharedSecret:    env("MDPLANE_PROXY_SECRET", ""),

		TestMode: envBool("MDPLANE_TEST_MODE", false),

		SessionSigningKey: env("MDPLANE_SESSION_SIGNING_KEY", ""),
	}

	var err error
	cfg.MaxWorkspaceStorageBytes, err = envInt64("MAX_WORKSPACE_STORAGE_BYTES", defaultMaxWorkspaceStorageBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.FileMaxSizeBytes, err = envInt64("MDPLANE_FILE_MAX_SIZE_BYTES", defaultFileMaxSizeBytes)
	if err != nil {
		return Config{}, err
	}

	if cfg.BaseURL == "" {
		return Config{}, errors.New("missing BASE_URL (public base url used to assemble capability URLs)")
	}
	if cfg.SessionSigningKey == "" && !cfg.TestMode {
		return Config{}, errors.New("missing MDPLANE_SESSION_SIGNING_KEY")
	}
	if cfg.SessionSigningKey == "" {
		cfg.SessionSigningKey = "test-mode-insecure-signing-key"
	}

	return cfg, nil
}

func env(key, def string) string {
	if v := os.Getenv(key); strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt64(key string, def int64) (int64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, err
	}
	return n, nil
}
