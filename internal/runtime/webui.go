package runtime

import (
	"net/http"
	"strings"

	"github.com/openelr/relay/internal/runtime/jsoncodec"
)

// StartWebUIServer exposes a read-only JSON view of the registered queue
// handlers and their stats, for the operations dashboard.
func (s *Service) StartWebUIServer() {
	if !s.Conf.WebUIEnabled {
		return
	}

	port := s.Conf.WebUIPort
	if port == 0 {
		port = 8081
	}

	s.RegisterHTTPHandler(port, "/api/handlers", http.HandlerFunc(s.handleGetHandlers))
}

func (s *Service) handleGetHandlers(w http.ResponseWriter, r *http.Request) {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")

	if s.Conf != nil && len(s.Conf.WebUICORSAllowedOrigins) > 0 {
		if origin := s.allowedCORSOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := jsoncodec.Encode(w, s.handlers); err != nil {
		s.Logger.Error("Failed to encode handlers", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// allowedCORSOrigin resolves the Access-Control-Allow-Origin value for a
// request origin, or "" when the origin is not allowed.
func (s *Service) allowedCORSOrigin(requestOrigin string) string {
	if s.Conf == nil {
		return ""
	}
	for _, allowed := range s.Conf.WebUICORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
