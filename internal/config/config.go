package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr    string
	PostgresDSN string
	LogLevel    string

	// AppID is the OU expected in secure-enclave leaf certificates, e.g.
	// "TEAMID.com.example.capture".
	AppID string

	SecureEnclaveRootsPEMPath  string
	KeyAttestationRootsPEMPath string

	ChallengeTTLSeconds      int
	TimestampMaxDeltaSeconds int

	ReviewBundlePath string
	ReviewBundleID   string

	RateLimitRequests      int
	RateLimitWindowSeconds int
	RateLimitFailClosed    bool
	RateLimitMaxKeys       int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		HTTPAddr:                   addr,
		PostgresDSN:                os.Getenv("POSTGRES_DSN"),
		LogLevel:                   envDefault("LOG_LEVEL", "info"),
		AppID:                      os.Getenv("ATTEST_APP_ID"),
		SecureEnclaveRootsPEMPath:  os.Getenv("SECURE_ENCLAVE_ROOTS_PEM"),
		KeyAttestationRootsPEMPath: os.Getenv("KEY_ATTESTATION_ROOTS_PEM"),
		ChallengeTTLSeconds:        envIntDefault("CHALLENGE_TTL_SECONDS", 300),
		TimestampMaxDeltaSeconds:   envIntDefault("TIMESTAMP_MAX_DELTA_SECONDS", 300),
		ReviewBundlePath:           os.Getenv("REVIEW_BUNDLE_PATH"),
		ReviewBundleID:             envDefault("REVIEW_BUNDLE_ID", "review_v0"),
		RateLimitRequests:          envIntDefault("RATE_LIMIT_REQUESTS", 0),
		RateLimitWindowSeconds:     envIntDefault("RATE_LIMIT_WINDOW_SECONDS", 60),
		RateLimitFailClosed:        envBoolDefault("RATE_LIMIT_FAIL_CLOSED", false),
		RateLimitMaxKeys:           envIntDefault("RATE_LIMIT_MAX_KEYS", 10000),
		RedisAddr:                  os.Getenv("REDIS_ADDR"),
		RedisPassword:              os.Getenv("REDIS_PASSWORD"),
		RedisDB:                    envIntDefault("REDIS_DB", 0),
	}
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func envBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "No":
		return false
	default:
		return def
	}
}

func (c Config) ChallengeTTL() time.Duration {
	if c.ChallengeTTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.ChallengeTTLSeconds) * time.Second
}

func (c Config) TimestampMaxDelta() time.Duration {
	if c.TimestampMaxDeltaSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.TimestampMaxDeltaSeconds) * time.Second
}

func (c Config) RateLimitWindow() time.Duration {
	if c.RateLimitWindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}
