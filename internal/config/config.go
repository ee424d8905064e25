// Package config provides configuration management for the clinic
// gateway. It loads values from environment variables with sensible
// defaults and validates them so a misconfigured policy table is
// rejected at startup rather than silently falling back at request
// time.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - JWT_SECRET: HMAC secret for the upstream identity tokens;
//     when empty all requests are treated as anonymous
//
// Shared Store (Redis):
//   - REDIS_ENABLED: Use the shared backend for cache and counters (default: false)
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//
// Response Cache:
//   - CACHE_DURATION: Entry TTL (default: 5m)
//   - CACHE_PUBLIC: Whether anonymous responses are publicly cacheable (default: true)
//   - CACHE_MAX_AGE: Cache-Control max-age seconds (default: TTL seconds)
//   - CACHE_STALE_WHILE_REVALIDATE: stale-while-revalidate seconds (default: 60)
//   - CACHE_STALE_IF_ERROR: stale-if-error seconds (default: 120)
//
// Rate Limiting:
//   - RATE_LIMIT_WINDOW: Counting window (default: 1m)
//   - RATE_LIMIT_MAX: Default requests per window (default: 100)
//   - RATE_LIMIT_MESSAGE: Rejection message (default: library default)
//   - RATE_LIMIT_STANDARD_HEADERS: Emit RateLimit-* headers (default: true)
//   - RATE_LIMIT_LEGACY_HEADERS: Emit X-RateLimit-* headers (default: false)
//   - RATE_LIMIT_SKIP_SUCCESSFUL: Do not count responses below 400 (default: false)
//   - RATE_LIMIT_ROLES: Ordered role table, e.g. "admin:500,doctor:300"
//   - RATE_LIMIT_ENDPOINTS: Ordered prefix table, e.g. "/api/auth/:200,/api/appointments:100"
//
// Maintenance:
//   - JANITOR_SCHEDULE: Cron spec for the background sweep (default: @every 1m)
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// RolePolicy is one parsed entry of the role table.
type RolePolicy struct {
	Role  string
	Limit int
}

// EndpointPolicy is one parsed entry of the endpoint table. Order is
// declaration order; the first matching prefix wins.
type EndpointPolicy struct {
	Prefix string
	Limit  int
}

// Config holds all configuration values for the gateway.
type Config struct {
	// Application settings
	Port      string
	LogLevel  string
	JWTSecret string

	// Shared store
	RedisEnabled  bool
	RedisAddress  string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int

	// Response cache
	CacheDuration             time.Duration
	CachePublic               bool
	CacheMaxAge               int
	CacheStaleWhileRevalidate int
	CacheStaleIfError         int

	// Rate limiting
	RateLimitWindow          time.Duration
	RateLimitMax             int
	RateLimitMessage         string
	RateLimitStandardHeaders bool
	RateLimitLegacyHeaders   bool
	RateLimitSkipSuccessful  bool
	RoleLimits               []RolePolicy
	EndpointLimits           []EndpointPolicy

	// Maintenance
	JanitorSchedule string

	// parse errors deferred to Validate
	parseErrs []string
}

// Load creates a Config from environment variables. It does not
// validate; call Validate on the result before use.
func Load() *Config {
	cfg := &Config{
		Port:      getEnv("PORT", "8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		JWTSecret: getEnv("JWT_SECRET", ""),

		RedisEnabled:  getEnvBool("REDIS_ENABLED", false),
		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisPoolSize: getEnvInt("REDIS_POOL_SIZE", 10),

		CacheDuration:             getEnvDuration("CACHE_DURATION", 5*time.Minute),
		CachePublic:               getEnvBool("CACHE_PUBLIC", true),
		CacheStaleWhileRevalidate: getEnvInt("CACHE_STALE_WHILE_REVALIDATE", 60),
		CacheStaleIfError:         getEnvInt("CACHE_STALE_IF_ERROR", 120),

		RateLimitWindow:          getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitMax:             getEnvInt("RATE_LIMIT_MAX", 100),
		RateLimitMessage:         getEnv("RATE_LIMIT_MESSAGE", ""),
		RateLimitStandardHeaders: getEnvBool("RATE_LIMIT_STANDARD_HEADERS", true),
		RateLimitLegacyHeaders:   getEnvBool("RATE_LIMIT_LEGACY_HEADERS", false),
		RateLimitSkipSuccessful:  getEnvBool("RATE_LIMIT_SKIP_SUCCESSFUL", false),

		JanitorSchedule: getEnv("JANITOR_SCHEDULE", "@every 1m"),
	}

	cfg.CacheMaxAge = getEnvInt("CACHE_MAX_AGE", int(cfg.CacheDuration.Seconds()))

	cfg.RoleLimits = cfg.parseRoleTable(getEnv("RATE_LIMIT_ROLES", ""))
	cfg.EndpointLimits = cfg.parseEndpointTable(getEnv("RATE_LIMIT_ENDPOINTS", ""))

	return cfg
}

// Validate checks the loaded configuration. A malformed table or
// nonsensical value is reported here, before any traffic is served.
func (c *Config) Validate() error {
	var problems []string
	problems = append(problems, c.parseErrs...)

	if c.Port == "" {
		problems = append(problems, "PORT must not be empty")
	}
	if c.CacheDuration <= 0 {
		problems = append(problems, "CACHE_DURATION must be positive")
	}
	if c.RateLimitWindow <= 0 {
		problems = append(problems, "RATE_LIMIT_WINDOW must be positive")
	}
	if c.RateLimitMax <= 0 {
		problems = append(problems, "RATE_LIMIT_MAX must be positive")
	}
	if c.RateLimitStandardHeaders && c.RateLimitLegacyHeaders {
		problems = append(problems, "RATE_LIMIT_STANDARD_HEADERS and RATE_LIMIT_LEGACY_HEADERS are mutually exclusive")
	}
	if c.RedisEnabled && c.RedisAddress == "" {
		problems = append(problems, "REDIS_ADDRESS is required when REDIS_ENABLED is true")
	}
	if c.RedisDB < 0 || c.RedisDB > 15 {
		problems = append(problems, "REDIS_DB must be between 0 and 15")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// parseRoleTable parses "admin:500,doctor:300" preserving declaration
// order.
func (c *Config) parseRoleTable(raw string) []RolePolicy {
	var table []RolePolicy
	for _, item := range splitTable(raw) {
		name, limit, err := splitEntry(item)
		if err != nil {
			c.parseErrs = append(c.parseErrs, fmt.Sprintf("RATE_LIMIT_ROLES entry %q: %v", item, err))
			continue
		}
		table = append(table, RolePolicy{Role: name, Limit: limit})
	}
	return table
}

// parseEndpointTable parses "/api/auth/:200,/api/x:100" preserving
// declaration order.
func (c *Config) parseEndpointTable(raw string) []EndpointPolicy {
	var table []EndpointPolicy
	for _, item := range splitTable(raw) {
		prefix, limit, err := splitEntry(item)
		if err != nil {
			c.parseErrs = append(c.parseErrs, fmt.Sprintf("RATE_LIMIT_ENDPOINTS entry %q: %v", item, err))
			continue
		}
		if !strings.HasPrefix(prefix, "/") {
			c.parseErrs = append(c.parseErrs, fmt.Sprintf("RATE_LIMIT_ENDPOINTS entry %q: prefix must start with /", item))
			continue
		}
		table = append(table, EndpointPolicy{Prefix: prefix, Limit: limit})
	}
	return table
}

func splitTable(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var items []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// splitEntry splits "matcher:limit" on the last colon, so endpoint
// prefixes containing colons stay intact.
func splitEntry(item string) (string, int, error) {
	idx := strings.LastIndex(item, ":")
	if idx <= 0 || idx == len(item)-1 {
		return "", 0, fmt.Errorf("expected matcher:limit")
	}
	limit, err := strconv.Atoi(item[idx+1:])
	if err != nil {
		return "", 0, fmt.Errorf("limit is not a number")
	}
	return item[:idx], limit, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		// Bare numbers are treated as seconds.
		if n, err := strconv.Atoi(value); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}
