package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/convrag/internal/cache"
	"github.com/54b3r/convrag/internal/rag"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// Stats supplies the data for GET /api/stats. If nil the route is not
	// registered.
	Stats StatsSource
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on /api/stats.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives the server's own collectors. If nil a private
	// registry is created.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer is served on GET /metrics. It is normally the same
	// registry as MetricsRegistry.
	MetricsGatherer prometheus.Gatherer
}

// StatsSource reports cache and per-conversation collection statistics.
// *Diagnostics satisfies it; tests inject a fake.
type StatsSource interface {
	// CacheStats returns a snapshot of the cache backend.
	CacheStats(ctx context.Context) cache.Stats
	// CollectionStats returns the statistics for one conversation's
	// collection, or nil when it does not exist.
	CollectionStats(ctx context.Context, conversationID string) (*rag.CollectionStats, error)
}

// Server is the operational HTTP server for the retrieval service.
type Server struct {
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// stats backs GET /api/stats.
	stats StatsSource
	// metrics holds the HTTP collectors.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// statsResponse is the JSON response for GET /api/stats.
type statsResponse struct {
	// Cache is the cache backend snapshot.
	Cache cache.Stats `json:"cache"`
	// ConversationID echoes the conversation queried, if any.
	ConversationID string `json:"conversation_id,omitempty"`
	// Collection holds the conversation's collection statistics. Null when
	// no conversation was requested or its collection does not exist.
	Collection *rag.CollectionStats `json:"collection,omitempty"`
}
