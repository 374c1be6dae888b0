package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/convrag/internal/logging"
)

// headerAPIKey is accepted in place of a Bearer token for clients that
// cannot set Authorization.
const headerAPIKey = "X-API-Key"

// authMiddleware enforces API key authentication on next. The key may be
// presented as "Authorization: Bearer <key>" or "X-API-Key: <key>". An empty
// apiKey disables the check; New warns about that at startup.
//
// Failures get 401 with a Bearer challenge. Key values are never logged.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := sha256.Sum256([]byte(apiKey))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logging.FromContext(r.Context())

		token, source := presentedKey(r)
		if token == "" {
			log.Warn("auth: no credentials presented")
			w.Header().Set("WWW-Authenticate", `Bearer realm="convrag"`)
			http.Error(w, "authorization required", http.StatusUnauthorized)
			return
		}

		// Equal-length digests make the comparison constant-time.
		got := sha256.Sum256([]byte(token))
		if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
			log.Warn("auth: invalid credentials", slog.String("source", source))
			w.Header().Set("WWW-Authenticate", `Bearer realm="convrag" error="invalid_token"`)
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// presentedKey returns the caller's key and the header it came from. A
// well-formed Bearer token takes precedence over X-API-Key.
func presentedKey(r *http.Request) (key, source string) {
	if t := bearerToken(r); t != "" {
		return t, "authorization"
	}
	if k := strings.TrimSpace(r.Header.Get(headerAPIKey)); k != "" {
		return k, "x-api-key"
	}
	return "", ""
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header, or "" when the header is absent or uses another scheme.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
