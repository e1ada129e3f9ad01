package httpmiddleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig configures the CORS middleware behaviour.
type CORSConfig struct {
	// AllowOrigins is a list of origins that are allowed to make cross-origin
	// requests. An empty list or the single entry "*" means all origins are
	// allowed.
	AllowOrigins []string

	// AllowMethods lists the HTTP methods clients may use in actual requests.
	// Defaults to "GET, POST, PUT, DELETE, OPTIONS" when empty.
	AllowMethods []string

	// AllowHeaders lists the request headers clients may use.
	// If empty, the middleware echoes back the Access-Control-Request-Headers
	// from the preflight request.
	AllowHeaders []string

	// ExposeHeaders lists response headers the browser is allowed to access.
	ExposeHeaders []string

	// AllowCredentials indicates whether the response to a request can be
	// exposed when the credentials flag is true. When true, the wildcard
	// origin "*" must not be used — the middleware echoes the specific origin.
	AllowCredentials bool

	// MaxAge indicates how long (in seconds) preflight results can be cached.
	// A zero value omits the header; a negative value sends "0".
	MaxAge int
}

// corsState is the precomputed header material shared by every request.
type corsState struct {
	cfg      CORSConfig
	allowAll bool
	allowed  map[string]string // lowercase -> original

	allowMethods  string
	allowHeaders  string
	exposeHeaders string
	maxAge        string
}

// CORS returns a middleware that handles Cross-Origin Resource Sharing:
// case-insensitive origin matching with original-case echo-back, Vary header
// handling to prevent CDN cache poisoning, preflight detection via
// Access-Control-Request-Method, and credentials / expose-headers support.
func CORS(cfg CORSConfig) Middleware {
	s := &corsState{
		cfg:      cfg,
		allowAll: len(cfg.AllowOrigins) == 0,
		allowed:  make(map[string]string, len(cfg.AllowOrigins)),
	}
	for _, o := range cfg.AllowOrigins {
		if o == "*" {
			s.allowAll = true
			break
		}
		s.allowed[strings.ToLower(o)] = o
	}

	// Credentials plus wildcard is forbidden by the CORS spec: echo the
	// specific origin instead.
	if cfg.AllowCredentials && s.allowAll {
		s.allowAll = false
	}

	s.allowMethods = strings.Join(cfg.AllowMethods, ", ")
	if s.allowMethods == "" {
		s.allowMethods = "GET, POST, PUT, DELETE, OPTIONS"
	}
	s.allowHeaders = strings.Join(cfg.AllowHeaders, ", ")
	s.exposeHeaders = strings.Join(cfg.ExposeHeaders, ", ")

	if cfg.MaxAge > 0 {
		s.maxAge = strconv.Itoa(cfg.MaxAge)
	} else if cfg.MaxAge < 0 {
		s.maxAge = "0"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			// No Origin header means the request is outside CORS scope, but
			// caches still need Vary so a later CORS request is not served a
			// stale response.
			if origin == "" {
				if !s.allowAll {
					w.Header().Add("Vary", "Origin")
				}
				next.ServeHTTP(w, r)
				return
			}

			allowOrigin := s.matchOrigin(origin)

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				s.handlePreflight(w, r, allowOrigin)
				return
			}

			// Simple / actual CORS request.
			if !s.allowAll {
				w.Header().Add("Vary", "Origin")
			}

			if allowOrigin != "" {
				w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
				if s.cfg.AllowCredentials {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
				if s.exposeHeaders != "" {
					w.Header().Set("Access-Control-Expose-Headers", s.exposeHeaders)
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// handlePreflight answers an OPTIONS preflight with 204. A disallowed origin
// still gets 204, just without any CORS headers.
func (s *corsState) handlePreflight(w http.ResponseWriter, r *http.Request, allowOrigin string) {
	// Vary on preflight-specific headers to prevent cache poisoning.
	w.Header().Add("Vary", "Origin")
	w.Header().Add("Vary", "Access-Control-Request-Method")
	w.Header().Add("Vary", "Access-Control-Request-Headers")

	if allowOrigin == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
	w.Header().Set("Access-Control-Allow-Methods", s.allowMethods)

	if s.allowHeaders != "" {
		w.Header().Set("Access-Control-Allow-Headers", s.allowHeaders)
	} else if rh := r.Header.Get("Access-Control-Request-Headers"); rh != "" {
		// Echo back whatever headers the preflight asked for.
		w.Header().Set("Access-Control-Allow-Headers", rh)
	}

	if s.cfg.AllowCredentials {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}
	if s.maxAge != "" {
		w.Header().Set("Access-Control-Max-Age", s.maxAge)
	}

	w.WriteHeader(http.StatusNoContent)
}

// matchOrigin returns the value to use for Access-Control-Allow-Origin, or ""
// if the origin is not allowed. Lookup is case-insensitive but the configured
// original-case value is echoed.
func (s *corsState) matchOrigin(origin string) string {
	if s.allowAll {
		return "*"
	}
	if orig, ok := s.allowed[strings.ToLower(origin)]; ok {
		return orig
	}
	return ""
}
