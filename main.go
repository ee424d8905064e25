package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"clinic-gateway/internal/cache"
	"clinic-gateway/internal/common/logging"
	"clinic-gateway/internal/config"
	"clinic-gateway/internal/handlers"
	"clinic-gateway/internal/identity"
	"clinic-gateway/internal/janitor"
	"clinic-gateway/internal/middleware"
	"clinic-gateway/internal/ratelimit"
	"clinic-gateway/internal/redis"
	"clinic-gateway/internal/server"
)

func main() {
	_ = godotenv.Load()
	runtime.GOMAXPROCS(runtime.NumCPU())

	logging.InitGlobalLogger()
	defer logging.MustSync()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logging.Error("invalid configuration", err)
		os.Exit(1)
	}

	// Store selection: the shared backend when enabled and reachable,
	// process-local otherwise.
	var (
		redisClient  *redis.Client
		cacheStore   cache.Store
		counterStore ratelimit.CounterStore
		localCounter *ratelimit.LocalCounter
	)
	if cfg.RedisEnabled {
		client, err := redis.NewClient(&redis.Config{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			PoolSize: cfg.RedisPoolSize,
		})
		if err != nil {
			logging.Warn("shared store unreachable, falling back to local backends",
				logging.String("address", cfg.RedisAddress),
				logging.Any("error", err))
		} else {
			redisClient = client
			defer redisClient.Close()
		}
	}
	if redisClient != nil {
		cacheStore = cache.NewRedisStore(redisClient, "cache:")
		counterStore = ratelimit.NewRedisCounter(redisClient, "ratelimit:")
	} else {
		cacheStore = cache.NewLocalStore(10 * time.Minute)
		localCounter = ratelimit.NewLocalCounter()
		counterStore = localCounter
	}

	registry, err := ratelimit.NewRegistry(counterStore, buildPolicies(cfg))
	if err != nil {
		logging.Error("invalid rate limit policies", err)
		os.Exit(1)
	}

	cacheCfg := cache.Config{
		Duration:             cfg.CacheDuration,
		Public:               cfg.CachePublic,
		MaxAge:               cfg.CacheMaxAge,
		StaleWhileRevalidate: cfg.CacheStaleWhileRevalidate,
		StaleIfError:         cfg.CacheStaleIfError,
	}
	invalidator := cache.NewInvalidator(cacheStore)

	h := handlers.New()

	router := mux.NewRouter()
	if cfg.JWTSecret != "" {
		router.Use(identity.Middleware(cfg.JWTSecret))
	}
	router.Use(middleware.Logging)
	router.Use(registry.RoleMiddleware())
	router.Use(registry.EndpointMiddleware())

	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.Use(cache.Middleware(cacheStore, cacheCfg))

	api.HandleFunc("/appointments", h.ListAppointments).Methods("GET")
	api.Handle("/appointments",
		invalidator.OnWrite("/api/appointments")(http.HandlerFunc(h.CreateAppointment))).Methods("POST")
	api.HandleFunc("/clinics", h.ListClinics).Methods("GET")
	api.HandleFunc("/users/me", h.Me).Methods("GET")

	// Background maintenance
	var health janitor.HealthChecker
	if redisClient != nil {
		health = redisClient
	}
	jan := janitor.New(localCounter, health)
	if err := jan.Start(cfg.JanitorSchedule); err != nil {
		logging.Error("failed to start janitor", err)
		os.Exit(1)
	}
	defer jan.Stop()

	srv := server.New(router, cfg.Port)
	errCh := srv.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logging.Error("server failed", err)
		os.Exit(1)
	case sig := <-quit:
		logging.Info("shutting down", logging.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.Error("forced shutdown", err)
		os.Exit(1)
	}
	logging.Info("server exited")
}

// buildPolicies maps the configuration surface onto the typed policy
// tables, preserving declaration order.
func buildPolicies(cfg *config.Config) []ratelimit.Policy {
	base := ratelimit.Policy{
		Window:          cfg.RateLimitWindow,
		Message:         cfg.RateLimitMessage,
		StandardHeaders: cfg.RateLimitStandardHeaders,
		LegacyHeaders:   cfg.RateLimitLegacyHeaders,
		SkipSuccessful:  cfg.RateLimitSkipSuccessful,
	}

	policies := make([]ratelimit.Policy, 0, len(cfg.RoleLimits)+len(cfg.EndpointLimits)+2)

	def := base
	def.Kind = ratelimit.KindDefault
	def.Limit = cfg.RateLimitMax
	policies = append(policies, def)

	anon := base
	anon.Kind = ratelimit.KindAnonymous
	anon.Limit = cfg.RateLimitMax
	policies = append(policies, anon)

	for _, rl := range cfg.RoleLimits {
		p := base
		p.Kind = ratelimit.KindRole
		p.Matcher = rl.Role
		p.Limit = rl.Limit
		policies = append(policies, p)
	}
	for _, ep := range cfg.EndpointLimits {
		p := base
		p.Kind = ratelimit.KindEndpoint
		p.Matcher = ep.Prefix
		p.Limit = ep.Limit
		policies = append(policies, p)
	}

	return policies
}
