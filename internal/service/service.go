package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Cavidan-oss/weather-gateway/internal/cache"
	"github.com/Cavidan-oss/weather-gateway/internal/client"
	"github.com/Cavidan-oss/weather-gateway/internal/models"
	"github.com/Cavidan-oss/weather-gateway/internal/observability"
)

// CityStore lists the cities known to the local database.
type CityStore interface {
	ActiveCities(ctx context.Context) ([]string, error)
}

// Gateway orchestrates weather data retrieval using cache-aside with upstream
// fallback. Cached payloads are marshaled JSON returned to callers verbatim.
type Gateway struct {
	client    client.WeatherClient
	cache     cache.Cache
	cities    CityStore
	ttl       time.Duration
	stampede  *stampedeTracker
	coalescer *requestCoalescer // Optional request coalescing (nil if disabled)
}

// NewGateway creates a Gateway with the provided dependencies. ttl is the
// cache expiration for weather and forecast payloads. coalesceEnabled and
// coalesceTimeout configure request coalescing (disabled if timeout 0).
func NewGateway(weatherClient client.WeatherClient, responseCache cache.Cache, cities CityStore, ttl time.Duration, coalesceEnabled bool, coalesceTimeout time.Duration) *Gateway {
	var coalescer *requestCoalescer
	if coalesceEnabled && coalesceTimeout > 0 {
		coalescer = newRequestCoalescer(coalesceTimeout)
	}
	return &Gateway{
		client:    weatherClient,
		cache:     responseCache,
		cities:    cities,
		ttl:       ttl,
		stampede:  newStampedeTracker(),
		coalescer: coalescer,
	}
}

// loggerFromContext extracts a zap.Logger from request context if present.
func loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return nil
}

// GetWeather returns the normalized current-weather payload for city, serving
// from cache when fresh and fetching upstream otherwise.
func (g *Gateway) GetWeather(ctx context.Context, city string) ([]byte, error) {
	observability.RecordCityQuery(city)
	return g.getCached(ctx, "weather", city, func() ([]byte, error) {
		conditions, err := g.client.CurrentWeather(ctx, city)
		if err != nil {
			return nil, err
		}
		return json.Marshal(NormalizeSnapshot(conditions))
	})
}

// GetForecast returns the provider-native forecast period list for city,
// cached under the same TTL as current weather.
func (g *Gateway) GetForecast(ctx context.Context, city string) ([]byte, error) {
	observability.RecordCityQuery(city)
	return g.getCached(ctx, "forecast", city, func() ([]byte, error) {
		periods, err := g.client.Forecast(ctx, city)
		if err != nil {
			return nil, err
		}
		return json.Marshal(periods)
	})
}

// GetCities reads the known-city list directly from the city store. This path
// deliberately bypasses the rate limiter and the cache, matching the
// reference behavior of hitting the local database on every call.
func (g *Gateway) GetCities(ctx context.Context) ([]string, error) {
	return g.cities.ActiveCities(ctx)
}

// getCached implements the cache-aside flow for one endpoint kind: consult
// the cache, on miss run fetch (coalesced with concurrent identical misses
// when enabled) and store the marshaled result. Upstream errors are returned
// unwrapped enough for errors.Is and nothing is cached for them.
func (g *Gateway) getCached(ctx context.Context, kind, city string, fetch func() ([]byte, error)) ([]byte, error) {
	key := cacheKey(kind, city)
	start := time.Now()
	logger := loggerFromContext(ctx)

	cached, ok, err := g.cache.Get(ctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
		if logger != nil {
			logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
	} else if ok {
		observability.CacheHitsTotal.WithLabelValues(kind).Inc()
		if logger != nil {
			logger.Debug("cache hit", zap.String("key", key), zap.Duration("duration", time.Since(start)))
		}
		return cached, nil
	}

	concurrentMisses := g.stampede.RecordMiss(key)
	defer g.stampede.RecordDone(key)
	if concurrentMisses > 1 {
		observability.CacheStampedeDetectedTotal.Inc()
		observability.CacheStampedeConcurrency.Observe(float64(concurrentMisses))
	}

	if logger != nil {
		logger.Debug("cache miss, fetching upstream", zap.String("key", key))
	}

	var payload []byte
	var upstreamErr error
	if g.coalescer != nil {
		coalesceStart := time.Now()
		payload, upstreamErr = g.coalescer.GetOrDo(ctx, key, fetch)
		// A wait noticeably longer than a map lookup means this caller
		// piggybacked on another request's fetch (approximate).
		if upstreamErr == nil && time.Since(coalesceStart) > 10*time.Millisecond && concurrentMisses > 1 {
			observability.CoalescedWaitersTotal.Inc()
		}
	} else {
		payload, upstreamErr = fetch()
	}
	if upstreamErr != nil {
		return nil, fmt.Errorf("fetch %s for %s: %w", kind, city, upstreamErr)
	}

	if setErr := g.cache.Set(ctx, key, payload, g.ttl); setErr != nil {
		observability.CacheErrorsTotal.WithLabelValues("set").Inc()
		if logger != nil {
			logger.Warn("cache set failed", zap.String("key", key), zap.Error(setErr))
		}
	}
	if logger != nil {
		logger.Debug("served from upstream", zap.String("key", key), zap.Duration("duration", time.Since(start)))
	}
	return payload, nil
}

// cacheKey derives the cache key from endpoint kind and the city as given.
// City names are case-sensitive: "Durham" and "durham" are distinct entries.
func cacheKey(kind, city string) string {
	return kind + ":" + strings.TrimSpace(city)
}

// NormalizeSnapshot converts a raw provider record into the response shape:
// absent numeric fields default to 0 and are rounded to one decimal place,
// absent text fields default to "N/A".
func NormalizeSnapshot(c models.Conditions) models.Snapshot {
	return models.Snapshot{
		CurrentTemp:     round1(floatOrZero(c.Temperature)),
		FeelsLikeTemp:   round1(floatOrZero(c.FeelsLike)),
		Humidity:        round1(floatOrZero(c.Humidity)),
		WindSpeed:       round1(floatOrZero(c.WindSpeed)),
		Description:     textOrNA(c.Description),
		MainDescription: textOrNA(c.MainDescription),
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func floatOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func textOrNA(s *string) string {
	if s == nil {
		return "N/A"
	}
	return *s
}
