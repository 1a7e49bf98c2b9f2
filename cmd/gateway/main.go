package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/gorilla/mux"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Cavidan-oss/weather-gateway/internal/cache"
	"github.com/Cavidan-oss/weather-gateway/internal/citystore"
	"github.com/Cavidan-oss/weather-gateway/internal/client"
	"github.com/Cavidan-oss/weather-gateway/internal/config"
	httphandler "github.com/Cavidan-oss/weather-gateway/internal/http"
	"github.com/Cavidan-oss/weather-gateway/internal/lifecycle"
	"github.com/Cavidan-oss/weather-gateway/internal/observability"
	"github.com/Cavidan-oss/weather-gateway/internal/ratelimit"
	"github.com/Cavidan-oss/weather-gateway/internal/service"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	weatherClient, err := client.NewOpenWeatherClientWithRetry(
		cfg.WeatherAPIKey,
		cfg.WeatherAPIURL,
		cfg.WeatherAPITimeout,
		cfg.RetryAttempts,
		cfg.RetryBaseDelay,
		cfg.RetryMaxDelay,
	)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}

	if cfg.BreakerEnabled {
		cb := client.NewBreaker(uint32(cfg.BreakerFailureThreshold), cfg.BreakerTimeout, func(from, to gobreaker.State) {
			observability.RecordBreakerTransition(from.String(), to.String())
			logger.Warn("circuit breaker transition", zap.String("from", from.String()), zap.String("to", to.String()))
		})
		weatherClient.SetCircuitBreaker(cb)
		logger.Info("circuit breaker enabled", zap.Int("failure_threshold", cfg.BreakerFailureThreshold), zap.Duration("timeout", cfg.BreakerTimeout))
	}

	cities, err := citystore.Open(cfg.CityDBPath)
	if err != nil {
		logger.Fatal("city store", zap.Error(err))
	}

	var responseCache cache.Cache
	var memCache *cache.InMemoryCache
	var memcacheCloser *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcacheCloser = mc
		responseCache = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		memCache = cache.NewInMemoryCache(cfg.CacheCapacity)
		responseCache = memCache
		logger.Info("cache backend: in_memory", zap.Int("capacity", cfg.CacheCapacity), zap.Duration("ttl", cfg.CacheTTL))
	}

	var clientLimiter *ratelimit.Limiter
	if cfg.RateLimitPerWindow > 0 {
		clientLimiter = ratelimit.New(cfg.RateLimitPerWindow, cfg.RateLimitWindow)
		clientLimiter.SetIdleTTL(cfg.RateLimitIdleTTL)
	}
	var globalLimiter *rate.Limiter
	if cfg.GlobalRateRPS > 0 {
		globalLimiter = rate.NewLimiter(rate.Limit(cfg.GlobalRateRPS), cfg.GlobalRateBurst)
	}

	gateway := service.NewGateway(weatherClient, responseCache, cities, cfg.CacheTTL, cfg.CoalesceEnabled, cfg.CoalesceTimeout)
	handler := httphandler.NewHandler(gateway, logger, cfg.MinCityLength, cfg.MaxCityLength)

	var cacheLen, limiterClients func() int
	if memCache != nil {
		cacheLen = memCache.Len
	}
	if clientLimiter != nil {
		limiterClients = clientLimiter.Clients
	}
	observability.RegisterStoreGauges(cacheLen, limiterClients)
	if len(cfg.TrackedCities) > 0 {
		observability.SetTrackedCities(cfg.TrackedCities)
	}

	// Periodic housekeeping: expired cache entries and idle client windows
	// both need sweeping so neither store grows without bound.
	scheduler := gocron.NewScheduler(time.UTC)
	sweepSecs := int(cfg.SweepInterval.Seconds())
	if sweepSecs <= 0 {
		sweepSecs = 120
	}
	if memCache != nil {
		if _, err := scheduler.Every(sweepSecs).Seconds().Do(memCache.Sweep); err != nil {
			logger.Fatal("schedule cache sweep", zap.Error(err))
		}
	}
	if clientLimiter != nil {
		if _, err := scheduler.Every(sweepSecs).Seconds().Do(clientLimiter.Sweep); err != nil {
			logger.Fatal("schedule limiter sweep", zap.Error(err))
		}
	}
	scheduler.StartAsync()

	if cfg.WarmCache && len(cfg.WarmCities) > 0 {
		warmer := cache.NewWarmer(gateway, logger)
		warmCtx, warmCancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := warmer.Warm(warmCtx, cfg.WarmCities); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
		warmCancel()
		if cfg.WarmInterval > 0 {
			go func() {
				if err := warmer.WarmPeriodic(context.Background(), cfg.WarmCities, cfg.WarmInterval); err != nil && err != context.Canceled {
					logger.Error("periodic cache warming stopped", zap.Error(err))
				}
			}()
		}
	}

	router := mux.NewRouter()
	router.Use(httphandler.CORSMiddleware(cfg.CORSAllowedOrigins))
	router.Use(httphandler.CorrelationIDMiddleware(logger))
	router.Use(httphandler.MetricsMiddleware)
	router.HandleFunc("/", handler.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())
	router.HandleFunc("/get_cities", handler.GetCities).Methods("GET")

	// Weather routes sit behind rate limiting and a request deadline; the
	// city list deliberately does not (reference behavior).
	weatherRouter := router.NewRoute().Subrouter()
	weatherRouter.Use(httphandler.ClientRateLimitMiddleware(clientLimiter))
	weatherRouter.Use(httphandler.GlobalRateLimitMiddleware(globalLimiter))
	weatherRouter.Use(httphandler.TimeoutMiddleware(cfg.RequestTimeout))
	weatherRouter.HandleFunc("/get_weather/{city}", handler.GetWeather).Methods("GET")
	weatherRouter.HandleFunc("/get_forecast/{city}", handler.GetForecast).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	scheduler.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	if err := cities.Close(); err != nil {
		logger.Error("city store close", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
