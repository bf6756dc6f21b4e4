package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"digiturno/queue-service/internal/models"
	"digiturno/queue-service/internal/store"
)

type siteRequest struct {
	Name    *string `json:"name"`
	Address *string `json:"address"`
	Active  *bool   `json:"active"`
}

func (h *Handler) handleSites(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sites, err := h.store.ListSites(r.Context())
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, sites)
	case http.MethodPost:
		if _, ok := requireAdmin(w, r); !ok {
			return
		}
		var req siteRequest
		if !decodeBody(w, r, &req) {
			return
		}
		name := trimmed(req.Name)
		if name == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "name is required")
			return
		}
		site, err := h.store.CreateSite(r.Context(), name, trimmed(req.Address))
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusCreated, site)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleSiteByID(w http.ResponseWriter, r *http.Request) {
	siteID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/sites/"), "/")
	if strings.Contains(siteID, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if !isValidUUID(siteID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "site_id must be a UUID")
		return
	}
	if _, ok := requireAdmin(w, r); !ok {
		return
	}

	switch r.Method {
	case http.MethodPatch:
		var req siteRequest
		if !decodeBody(w, r, &req) {
			return
		}
		site, err := h.store.UpdateSite(r.Context(), store.SiteInput{
			SiteID:  siteID,
			Name:    trimmedPtr(req.Name),
			Address: trimmedPtr(req.Address),
			Active:  req.Active,
		})
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, site)
	case http.MethodDelete:
		if err := h.store.DeactivateSite(r.Context(), siteID); err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type serviceRequest struct {
	Name   *string `json:"name"`
	Active *bool   `json:"active"`
}

func (h *Handler) handleServices(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		services, err := h.store.ListServices(r.Context())
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, services)
	case http.MethodPost:
		if _, ok := requireAdmin(w, r); !ok {
			return
		}
		var req serviceRequest
		if !decodeBody(w, r, &req) {
			return
		}
		name := trimmed(req.Name)
		if name == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "name is required")
			return
		}
		svc, err := h.store.CreateService(r.Context(), name)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusCreated, svc)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleServiceByID(w http.ResponseWriter, r *http.Request) {
	serviceID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/services/"), "/")
	if strings.Contains(serviceID, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if !isValidUUID(serviceID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "service_id must be a UUID")
		return
	}
	if _, ok := requireAdmin(w, r); !ok {
		return
	}

	switch r.Method {
	case http.MethodPatch:
		var req serviceRequest
		if !decodeBody(w, r, &req) {
			return
		}
		svc, err := h.store.UpdateService(r.Context(), store.ServiceInput{
			ServiceID: serviceID,
			Name:      trimmedPtr(req.Name),
			Active:    req.Active,
		})
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, svc)
	case http.MethodDelete:
		if err := h.store.DeactivateService(r.Context(), serviceID); err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type agentRequest struct {
	Name         *string `json:"name"`
	Email        *string `json:"email"`
	Password     *string `json:"password"`
	SiteID       *string `json:"site_id"`
	Role         *string `json:"role"`
	CounterLabel *string `json:"counter_label"`
	Active       *bool   `json:"active"`
}

type assignServicesRequest struct {
	ServiceIDs []string `json:"service_ids"`
}

func (h *Handler) handleAgents(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		agents, err := h.store.ListAgents(r.Context())
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, agents)
	case http.MethodPost:
		var req agentRequest
		if !decodeBody(w, r, &req) {
			return
		}
		name := trimmed(req.Name)
		email := trimmed(req.Email)
		password := ""
		if req.Password != nil {
			password = *req.Password
		}
		if name == "" || email == "" || password == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "name, email, and password are required")
			return
		}
		if len(password) < 8 {
			writeError(w, http.StatusBadRequest, "invalid_request", "password must be at least 8 characters")
			return
		}
		role := trimmed(req.Role)
		if role == "" {
			role = models.RoleAgent
		}
		if role != models.RoleAgent && role != models.RoleAdmin {
			writeError(w, http.StatusBadRequest, "invalid_request", "role must be agent or admin")
			return
		}
		siteID := trimmed(req.SiteID)
		if siteID != "" && !isValidUUID(siteID) {
			writeError(w, http.StatusBadRequest, "invalid_request", "site_id must be a UUID")
			return
		}
		counterLabel := trimmed(req.CounterLabel)
		if counterLabel == "" {
			counterLabel = "1"
		}

		agent, err := h.store.CreateAgent(r.Context(), store.CreateAgentInput{
			Name:         name,
			Email:        email,
			Password:     password,
			SiteID:       siteID,
			Role:         role,
			CounterLabel: counterLabel,
		})
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusCreated, agent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleAgentByID(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/agents/"), "/")
	parts := strings.Split(path, "/")
	agentID := parts[0]
	if !isValidUUID(agentID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "agent_id must be a UUID")
		return
	}
	if _, ok := requireAdmin(w, r); !ok {
		return
	}

	if len(parts) == 2 && parts[1] == "services" {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req assignServicesRequest
		if !decodeBody(w, r, &req) {
			return
		}
		for _, serviceID := range req.ServiceIDs {
			if !isValidUUID(serviceID) {
				writeError(w, http.StatusBadRequest, "invalid_request", "service_ids must be UUIDs")
				return
			}
		}
		if err := h.store.AssignServices(r.Context(), agentID, req.ServiceIDs); err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if len(parts) != 1 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodPatch:
		var req agentRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Role != nil {
			role := strings.TrimSpace(*req.Role)
			if role != models.RoleAgent && role != models.RoleAdmin {
				writeError(w, http.StatusBadRequest, "invalid_request", "role must be agent or admin")
				return
			}
		}
		if req.SiteID != nil && *req.SiteID != "" && !isValidUUID(*req.SiteID) {
			writeError(w, http.StatusBadRequest, "invalid_request", "site_id must be a UUID")
			return
		}
		if req.Password != nil && len(*req.Password) < 8 {
			writeError(w, http.StatusBadRequest, "invalid_request", "password must be at least 8 characters")
			return
		}
		agent, err := h.store.UpdateAgent(r.Context(), store.AgentUpdate{
			AgentID:      agentID,
			Name:         trimmedPtr(req.Name),
			Email:        trimmedPtr(req.Email),
			Password:     req.Password,
			SiteID:       trimmedPtr(req.SiteID),
			Role:         trimmedPtr(req.Role),
			CounterLabel: trimmedPtr(req.CounterLabel),
			Active:       req.Active,
		})
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, agent)
	case http.MethodDelete:
		if err := h.store.DeactivateAgent(r.Context(), agentID); err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func trimmed(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}

func trimmedPtr(value *string) *string {
	if value == nil {
		return nil
	}
	t := strings.TrimSpace(*value)
	return &t
}
