package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Cavidan-oss/weather-gateway/internal/client"
	"github.com/Cavidan-oss/weather-gateway/internal/lifecycle"
	"github.com/Cavidan-oss/weather-gateway/internal/models"
	"github.com/Cavidan-oss/weather-gateway/internal/service"
	"github.com/Cavidan-oss/weather-gateway/internal/validation"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	gateway    *service.Gateway
	logger     *zap.Logger
	minCityLen int
	maxCityLen int
}

// NewHandler returns a new Handler. minCityLen/maxCityLen bound the accepted
// city path parameter (0 disables the bound).
func NewHandler(gateway *service.Gateway, logger *zap.Logger, minCityLen, maxCityLen int) *Handler {
	return &Handler{
		gateway:    gateway,
		logger:     logger,
		minCityLen: minCityLen,
		maxCityLen: maxCityLen,
	}
}

// GetHealth handles GET /. Returns 503 shutting-down while draining so load
// balancers stop routing to this instance.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	if lifecycle.IsShuttingDown() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "shutting-down",
			"timestamp": time.Now().Unix(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

// GetWeather handles GET /get_weather/{city}.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	city, ok := h.cityParam(w, r)
	if !ok {
		return
	}
	payload, err := h.gateway.GetWeather(r.Context(), city)
	if err != nil {
		h.writeFetchError(w, r, err, "no weather data found for "+city)
		return
	}
	writeRawJSON(w, http.StatusOK, payload)
}

// GetForecast handles GET /get_forecast/{city}.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	city, ok := h.cityParam(w, r)
	if !ok {
		return
	}
	payload, err := h.gateway.GetForecast(r.Context(), city)
	if err != nil {
		h.writeFetchError(w, r, err, "no forecast data found for "+city)
		return
	}
	writeRawJSON(w, http.StatusOK, payload)
}

// GetCities handles GET /get_cities. This path bypasses rate limiting and
// caching: the city list comes straight from the local database on each call.
func (h *Handler) GetCities(w http.ResponseWriter, r *http.Request) {
	cities, err := h.gateway.GetCities(r.Context())
	if err != nil {
		if logger := requestLogger(r); logger != nil {
			logger.Error("city list lookup failed", zap.Error(err))
		}
		writeError(w, r, http.StatusInternalServerError, "CITY_STORE_ERROR", err.Error())
		return
	}
	if len(cities) == 0 {
		writeError(w, r, http.StatusNotFound, "NO_CITIES", "no cities found in database")
		return
	}
	writeJSON(w, http.StatusOK, models.CityList{Cities: cities})
}

// cityParam extracts and validates the {city} path variable, writing a 400
// response when it is unusable.
func (h *Handler) cityParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	city, err := validation.ValidateCity(mux.Vars(r)["city"], h.minCityLen, h.maxCityLen)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return "", false
	}
	return city, true
}

// writeFetchError maps service errors onto the HTTP contract: not-found is
// 404, a rejected credential is a 500 configuration error logged for
// operators, anything else is a 500 with the failure detail surfaced.
func (h *Handler) writeFetchError(w http.ResponseWriter, r *http.Request, err error, notFoundMsg string) {
	logger := requestLogger(r)
	switch {
	case errors.Is(err, client.ErrCityNotFound):
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", notFoundMsg)
	case errors.Is(err, client.ErrInvalidAPIKey):
		if logger != nil {
			logger.Error("weather API credential rejected", zap.Error(err))
		}
		writeError(w, r, http.StatusInternalServerError, "CONFIGURATION_ERROR", "weather API key not configured or rejected")
	default:
		if logger != nil {
			logger.Error("upstream fetch failed", zap.Error(err))
		}
		writeError(w, r, http.StatusInternalServerError, "UPSTREAM_ERROR", err.Error())
	}
}

func requestLogger(r *http.Request) *zap.Logger {
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok {
		return logger
	}
	return nil
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeRawJSON writes an already-marshaled JSON payload verbatim. Cached
// payloads must reach the caller unchanged, so they are never re-encoded.
func writeRawJSON(w http.ResponseWriter, status int, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

// writeError writes an error response in the standard envelope with code,
// message, and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value("correlation_id"); v != nil {
		corrID = v.(string)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}
