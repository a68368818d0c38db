package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/JonMunkholm/impex/internal/config"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type actorKey struct{}

// apiKey is one configured "name:key" pair.
type apiKey struct {
	name string
	key  []byte
}

// APIKeyAuth returns middleware that validates the X-API-Key header against
// the configured keys and stores the key's name as the request actor.
// If RequireAPIKey is false, requests pass through; a valid key still
// names the actor.
func APIKeyAuth(cfg config.SecurityConfig) func(http.Handler) http.Handler {
	keys := parseKeys(cfg.APIKeys)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get("X-API-Key")
			if presented == "" {
				if cfg.RequireAPIKey {
					slog.Warn("auth: missing API key",
						"path", r.URL.Path,
						"method", r.Method,
						"remote_addr", r.RemoteAddr,
					)
					writeAuthError(w, http.StatusUnauthorized, authError{
						Error:   "missing API key",
						Message: "missing API key",
						Action:  "Send a key in the X-API-Key header",
						Code:    "AUTH001",
					})
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			name, ok := matchKey(presented, keys)
			if !ok {
				slog.Warn("auth: invalid API key",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)
				writeAuthError(w, http.StatusForbidden, authError{
					Error:   "invalid API key",
					Message: "invalid API key",
					Action:  "Check the key with the server operator",
					Code:    "AUTH002",
				})
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, name)))
		})
	}
}

// Actor returns the name of the API key that authenticated the request,
// or "" for anonymous requests.
func Actor(ctx context.Context) string {
	name, _ := ctx.Value(actorKey{}).(string)
	return name
}

func parseKeys(pairs []string) []apiKey {
	keys := make([]apiKey, 0, len(pairs))
	for _, p := range pairs {
		name, key, ok := strings.Cut(strings.TrimSpace(p), ":")
		if !ok || name == "" || key == "" {
			continue
		}
		keys = append(keys, apiKey{name: name, key: []byte(key)})
	}
	return keys
}

// matchKey compares against every key in constant time per key so the
// timing does not reveal which key (if any) matched.
func matchKey(presented string, keys []apiKey) (string, bool) {
	var name string
	matched := 0
	for _, k := range keys {
		if subtle.ConstantTimeCompare([]byte(presented), k.key) == 1 {
			name = k.name
			matched = 1
		}
	}
	return name, matched == 1
}

// authError has the shape of the API's error responses.
type authError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

func writeAuthError(w http.ResponseWriter, status int, body authError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("auth: failed to encode error response", "error", err)
	}
}
