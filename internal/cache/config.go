package cache

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults applied when the corresponding environment variable is unset.
const (
	defaultHost        = "localhost"
	defaultPort        = "6379"
	defaultDB          = 1
	defaultTTL         = time.Hour
	defaultKeyPrefix   = "ai"
	defaultDialTimeout = 5 * time.Second
	defaultReadTimeout = 5 * time.Second
)

// Config holds the settings for constructing a Cache.
type Config struct {
	// Enabled turns caching on. When false every operation is a no-op miss.
	Enabled bool
	// Addr is the Redis host:port (e.g. "localhost:6379").
	Addr string
	// Password is the optional Redis AUTH password.
	Password string
	// DB is the Redis logical database number.
	DB int
	// DialTimeout bounds connection establishment and the startup probe.
	DialTimeout time.Duration
	// ReadTimeout bounds each socket read and write.
	ReadTimeout time.Duration
	// DefaultTTL applies to writes that do not carry an explicit TTL.
	DefaultTTL time.Duration
	// KeyPrefix is the first segment of every key.
	KeyPrefix string
}

// withDefaults fills zero-valued fields with package defaults.
func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = net.JoinHostPort(defaultHost, defaultPort)
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = defaultTTL
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = defaultKeyPrefix
	}
	return c
}

// ConfigFromEnv resolves a Config from the environment:
//
//	ENABLE_CACHE      (default: true)
//	REDIS_HOST        (default: localhost)
//	REDIS_PORT        (default: 6379)
//	REDIS_PASSWORD
//	REDIS_DB          (default: 1)
//	REDIS_TTL         seconds (default: 3600)
//	CACHE_KEY_PREFIX  (default: ai)
func ConfigFromEnv() Config {
	host := getEnvOrDefault("REDIS_HOST", defaultHost)
	port := getEnvOrDefault("REDIS_PORT", defaultPort)

	return Config{
		Enabled:     getEnvBool("ENABLE_CACHE", true),
		Addr:        net.JoinHostPort(host, port),
		Password:    os.Getenv("REDIS_PASSWORD"),
		DB:          getEnvInt("REDIS_DB", defaultDB),
		DialTimeout: defaultDialTimeout,
		ReadTimeout: defaultReadTimeout,
		DefaultTTL:  time.Duration(getEnvInt("REDIS_TTL", int(defaultTTL/time.Second))) * time.Second,
		KeyPrefix:   getEnvOrDefault("CACHE_KEY_PREFIX", defaultKeyPrefix),
	}
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvBool returns the boolean value of the named environment variable.
// "1", "true", "yes" and "on" are true; "0", "false", "no" and "off" are
// false; anything else yields fallback.
func getEnvBool(key string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
