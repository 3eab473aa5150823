package controlplane

import (
	"mime"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5"
	"github.com/inoueakimitsu/cline/authentication"
	"github.com/inoueakimitsu/cline/sys"
)

// headersMiddleware sets the CORS and version headers before anything else
// can write a response.
func (s *Server) headersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, "+authentication.DefaultTokenHeader)
		h.Set("Access-Control-Expose-Headers", "x-api-version")
		h.Set("x-api-version", APIVersion)
		next.ServeHTTP(w, r)
	})
}

// recoverMiddleware turns a handler panic into INTERNAL_SERVER_ERROR.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			s.logger.Error("panic serving %s %s: %s\n%s", r.Method, r.URL.Path, sys.PanicError(rec), debug.Stack())
			respondError(w, http.StatusInternalServerError, CodeInternalServerError, "Internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) preflightMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// matchRoute returns the route pattern for method and path, or false when
// the routing table has no such route.
func (s *Server) matchRoute(method, path string) (string, bool) {
	pattern := s.mux.Find(chi.NewRouteContext(), method, path)
	return pattern, pattern != ""
}

// routeMiddleware answers NOT_FOUND for any (method, path) outside the
// routing table before content type or token are looked at.
func (s *Server) routeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.matchRoute(r.Method, r.URL.Path); !ok {
			s.notFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func hasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json"
}

func (s *Server) contentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hasBody(r.Method) && !isJSON(r.Header.Get("Content-Type")) {
			respondError(w, http.StatusUnsupportedMediaType, CodeInvalidContentType, "Content-Type must be application/json")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := authentication.ValidateHeaderToken(r.Header, authentication.DefaultTokenHeader, s.token); err != nil {
			if s.authLimiter != nil && !s.authLimiter.Allow() {
				s.logger.Warn("rejecting %s %s: too many failed auth attempts", r.Method, r.URL.Path)
				respondError(w, http.StatusTooManyRequests, CodeTooManyRequests, "Too many failed authentication attempts")
				return
			}
			s.logger.Debug("unauthorized %s %s: %s", r.Method, r.URL.Path, err)
			respondError(w, http.StatusUnauthorized, CodeUnauthorized, "Invalid or missing "+authentication.DefaultTokenHeader+" header")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusNotFound, CodeNotFound, "Route not found: "+r.Method+" "+r.URL.Path)
}
