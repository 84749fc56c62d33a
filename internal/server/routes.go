package server

import (
	"net/http"

	"ohlcv-server/internal/collect"
	"ohlcv-server/internal/market"
	"ohlcv-server/internal/ohlcv"
)

// NewHandler creates the full HTTP handler with routes and middleware.
// Exported for use in tests (e.g., httptest.NewServer).
func NewHandler(markets *market.Registry, cache *ohlcv.Cache, collector *collect.Registry) http.Handler {
	return newMux(markets, cache, collector)
}

func newMux(markets *market.Registry, cache *ohlcv.Cache, collector *collect.Registry) http.Handler {
	h := &handler{
		markets:   markets,
		cache:     cache,
		collector: collector,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /api/v1/markets", h.listMarkets)
	mux.HandleFunc("GET /api/v1/markets/{id}/assets", h.listAssets)
	mux.HandleFunc("GET /api/v1/ohlcv", h.getBars)
	mux.HandleFunc("POST /api/v1/collect", h.startCollect)
	mux.HandleFunc("GET /api/v1/collect", h.listCollect)

	// Apply middleware stack: recovery -> requestID -> logging
	var handler http.Handler = mux
	handler = logging(handler)
	handler = requestID(handler)
	handler = recovery(handler)

	return handler
}
