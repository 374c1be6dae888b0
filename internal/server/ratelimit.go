package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/convrag/internal/logging"
)

const (
	// defaultRateLimit is the sustained requests per second allowed per
	// client on rate-limited endpoints.
	defaultRateLimit = 10

	// defaultRateBurst is the per-client burst when none is configured.
	defaultRateBurst = 20

	// clientIdleTTL is how long an idle client's bucket is retained.
	clientIdleTTL = 5 * time.Minute

	// evictInterval is how often idle buckets are swept.
	evictInterval = time.Minute
)

// clientBucket is one client's token bucket and when it was last used.
type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter enforces a per-client-IP token bucket on the routes it wraps.
type rateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientBucket
	rps     rate.Limit
	burst   int
	log     *slog.Logger

	// onReject, when set, runs for every rejected request.
	onReject func(r *http.Request)
}

// newRateLimiter constructs a rateLimiter and starts the eviction sweep. The
// returned stop function ends the sweep.
func newRateLimiter(rps float64, burst int, log *slog.Logger) (*rateLimiter, func()) {
	rl := &rateLimiter{
		clients: make(map[string]*clientBucket),
		rps:     rate.Limit(rps),
		burst:   burst,
		log:     log,
	}

	stopCh := make(chan struct{})
	var once sync.Once
	go rl.evictLoop(stopCh)

	return rl, func() { once.Do(func() { close(stopCh) }) }
}

// bucket returns the limiter for client, creating it on first use.
func (rl *rateLimiter) bucket(client string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.clients[client]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.clients[client] = b
	}
	b.lastSeen = time.Now()
	return b.limiter
}

// evictLoop sweeps idle buckets until stopCh is closed.
func (rl *rateLimiter) evictLoop(stopCh <-chan struct{}) {
	ticker := time.NewTicker(evictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case now := <-ticker.C:
			if n := rl.evict(now.Add(-clientIdleTTL)); n > 0 {
				rl.log.Debug("rate limiter: evicted idle clients", slog.Int("count", n))
			}
		}
	}
}

// evict removes buckets last used before cutoff and returns how many.
func (rl *rateLimiter) evict(cutoff time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	n := 0
	for client, b := range rl.clients {
		if b.lastSeen.Before(cutoff) {
			delete(rl.clients, client)
			n++
		}
	}
	return n
}

// middleware rejects over-limit requests with 429 and a Retry-After header
// holding the whole seconds until the next token is available.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientIP(r)
		res := rl.bucket(client).Reserve()
		delay := res.Delay()

		if !res.OK() || delay > 0 {
			res.Cancel()
			logging.FromContext(r.Context()).Warn("rate limit exceeded",
				slog.String("client", client),
				slog.Duration("retry_in", delay),
			)
			if rl.onReject != nil {
				rl.onReject(r)
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(delay)))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// retryAfterSeconds rounds delay up to whole seconds, at least 1. Delays the
// limiter cannot express (rate zero) report one minute.
func retryAfterSeconds(delay time.Duration) int {
	if delay <= 0 {
		return 1
	}
	if delay == rate.InfDuration || delay > time.Hour {
		return 60
	}
	return int(math.Ceil(delay.Seconds()))
}

// clientIP returns the host part of RemoteAddr. X-Forwarded-For is ignored.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	// Unbracketed IPv6 with a port, or no port at all.
	if i := strings.LastIndexByte(r.RemoteAddr, ':'); i > 0 && strings.Count(r.RemoteAddr, ":") > 2 {
		return r.RemoteAddr[:i]
	}
	return r.RemoteAddr
}
