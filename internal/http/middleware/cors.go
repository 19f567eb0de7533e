package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

const defaultCORSMaxAgeSeconds = 600

var (
	defaultCORSAllowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	defaultCORSAllowedHeaders = []string{"Accept", "Content-Type", "Idempotency-Key", "X-Request-Id"}
)

type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAgeSeconds  int
}

type corsPolicy struct {
	origins   []string
	anyOrigin bool
	methods   string
	headers   string
	maxAge    string
}

func newCORSPolicy(cfg CORSConfig) corsPolicy {
	policy := corsPolicy{origins: normalizeStringList(cfg.AllowedOrigins)}
	for _, origin := range policy.origins {
		if origin == "*" {
			policy.anyOrigin = true
		}
	}

	methods := normalizeStringList(cfg.AllowedMethods)
	if len(methods) == 0 {
		methods = defaultCORSAllowedMethods
	}
	headers := normalizeStringList(cfg.AllowedHeaders)
	if len(headers) == 0 {
		headers = defaultCORSAllowedHeaders
	}
	maxAge := cfg.MaxAgeSeconds
	if maxAge <= 0 {
		maxAge = defaultCORSMaxAgeSeconds
	}

	policy.methods = strings.Join(methods, ", ")
	policy.headers = strings.Join(headers, ", ")
	policy.maxAge = strconv.Itoa(maxAge)
	return policy
}

func (p corsPolicy) allows(origin string) bool {
	if p.anyOrigin {
		return true
	}
	for _, candidate := range p.origins {
		if strings.EqualFold(candidate, origin) {
			return true
		}
	}
	return false
}

// CORS answers preflights for allowed origins and tags their responses.
// Requests from other origins pass through untouched.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	policy := newCORSPolicy(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" || !policy.allows(origin) {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Add("Vary", "Origin")
			if policy.anyOrigin {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.Header().Add("Vary", "Access-Control-Request-Method")
				w.Header().Add("Vary", "Access-Control-Request-Headers")
				w.Header().Set("Access-Control-Allow-Methods", policy.methods)
				w.Header().Set("Access-Control-Allow-Headers", policy.headers)
				w.Header().Set("Access-Control-Max-Age", policy.maxAge)
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func normalizeStringList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, raw := range values {
		if value := strings.TrimSpace(raw); value != "" {
			result = append(result, value)
		}
	}
	return result
}
