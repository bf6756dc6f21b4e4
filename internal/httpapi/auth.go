package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"digiturno/queue-service/internal/models"
	"digiturno/queue-service/internal/store"
)

type authContextKey struct{}

type authInfo struct {
	Session models.AgentSession
	Agent   models.Agent
}

func AuthMiddleware(s store.Store, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}
		sessionID := sessionIDFromRequest(r)
		if sessionID == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
			return
		}
		session, agent, err := s.GetSession(r.Context(), sessionID)
		if err != nil {
			if errors.Is(err, store.ErrSessionNotFound) {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		ctx := context.WithValue(r.Context(), authContextKey{}, authInfo{Session: session, Agent: agent})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func authFromContext(ctx context.Context) (authInfo, bool) {
	value := ctx.Value(authContextKey{})
	if value == nil {
		return authInfo{}, false
	}
	info, ok := value.(authInfo)
	if !ok {
		return authInfo{}, false
	}
	return info, true
}

func requireAgent(w http.ResponseWriter, r *http.Request) (authInfo, bool) {
	info, ok := authFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return authInfo{}, false
	}
	return info, true
}

func requireAdmin(w http.ResponseWriter, r *http.Request) (authInfo, bool) {
	info, ok := requireAgent(w, r)
	if !ok {
		return authInfo{}, false
	}
	if info.Agent.Role != models.RoleAdmin {
		writeError(w, http.StatusForbidden, "access_denied", "admin role required")
		return authInfo{}, false
	}
	return info, true
}

// requireServiceAccess enforces the agent's service assignments. An agent
// with no assignments, or an admin, may dispatch any service.
func requireServiceAccess(w http.ResponseWriter, r *http.Request, info authInfo, serviceID string) bool {
	if info.Agent.Role == models.RoleAdmin {
		return true
	}
	if len(info.Agent.AssignedServices) == 0 {
		return true
	}
	for _, assigned := range info.Agent.AssignedServices {
		if assigned == serviceID {
			return true
		}
	}
	writeError(w, http.StatusForbidden, "access_denied", "service access denied")
	return false
}

func sessionIDFromRequest(r *http.Request) string {
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get("X-Session-ID"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

func isPublicEndpoint(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/metrics":
		return true
	case "/api/tickets", "/api/auth/login":
		return r.Method == http.MethodPost
	case "/api/queues", "/api/board", "/api/sites", "/api/services":
		return r.Method == http.MethodGet
	}
	if strings.HasPrefix(r.URL.Path, "/api/tickets/") && r.Method == http.MethodGet &&
		r.URL.Path != "/api/tickets/active" {
		return true
	}
	return r.Method == http.MethodOptions
}
