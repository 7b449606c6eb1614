package server

import (
	"net/http"
	"net/url"
	"slices"
	"sync/atomic"
)

// CORS applies a cross-origin policy with a run-time replaceable origin
// list. "*" allows every origin.
type CORS struct {
	origins atomic.Pointer[[]string]
}

// NewCORS creates a policy allowing origins.
func NewCORS(origins []string) *CORS {
	c := &CORS{}
	c.SetOrigins(origins)
	return c
}

// SetOrigins replaces the allowed origins.
func (c *CORS) SetOrigins(origins []string) {
	o := slices.Clone(origins)
	c.origins.Store(&o)
}

// Origins returns the allowed origins.
func (c *CORS) Origins() []string {
	return slices.Clone(*c.origins.Load())
}

// allowed returns the Access-Control-Allow-Origin value for origin, or "".
func (c *CORS) allowed(origin string) string {
	origins := *c.origins.Load()
	if slices.Contains(origins, "*") {
		return "*"
	}
	if slices.Contains(origins, origin) {
		return origin
	}
	return ""
}

// hostPatterns returns the allowed origins as host patterns for the
// WebSocket origin check.
func (c *CORS) hostPatterns() []string {
	var out []string
	for _, o := range *c.origins.Load() {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
		}
	}
	return out
}

// Wrap adds CORS headers to responses for allowed origins and answers
// preflight requests.
func (c *CORS) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Add("Vary", "Origin")
		allow := c.allowed(origin)
		if allow != "" {
			w.Header().Set("Access-Control-Allow-Origin", allow)
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			if allow != "" {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				w.Header().Set("Access-Control-Max-Age", "600")
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
