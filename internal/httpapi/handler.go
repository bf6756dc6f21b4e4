package httpapi

import (
	"encoding/json"
	"errors"
	"expvar"
	"net/http"
	"strings"
	"time"

	"digiturno/queue-service/internal/models"
	"digiturno/queue-service/internal/store"

	"github.com/google/uuid"
)

type Handler struct {
	store store.Store
}

func NewHandler(s store.Store) *Handler {
	return &Handler{store: s}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.Handle("/metrics", expvar.Handler())
	mux.HandleFunc("/api/tickets", h.handleTickets)
	mux.HandleFunc("/api/tickets/actions/call-next", h.handleCallNext)
	mux.HandleFunc("/api/tickets/active", h.handleActiveTicket)
	mux.HandleFunc("/api/tickets/", h.handleTicketByID)
	mux.HandleFunc("/api/queues", h.handleQueues)
	mux.HandleFunc("/api/board", h.handleBoard)
	mux.HandleFunc("/api/sites", h.handleSites)
	mux.HandleFunc("/api/sites/", h.handleSiteByID)
	mux.HandleFunc("/api/services", h.handleServices)
	mux.HandleFunc("/api/services/", h.handleServiceByID)
	mux.HandleFunc("/api/agents", h.handleAgents)
	mux.HandleFunc("/api/agents/", h.handleAgentByID)
	mux.HandleFunc("/api/auth/login", h.handleLogin)
	mux.HandleFunc("/api/auth/logout", h.handleLogout)
	mux.HandleFunc("/api/auth/me", h.handleMe)
	mux.HandleFunc("/api/dashboard", h.handleDashboard)
	mux.HandleFunc("/api/reports", h.handleReports)
	mux.HandleFunc("/api/reports/export", h.handleReportExport)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type createTicketRequest struct {
	SiteID           string `json:"site_id"`
	ServiceID        string `json:"service_id"`
	Priority         string `json:"priority"`
	CustomerName     string `json:"customer_name"`
	CustomerDocument string `json:"customer_document"`
	CustomerPhone    string `json:"customer_phone"`
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) handleTickets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createTicketRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.SiteID = strings.TrimSpace(req.SiteID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.Priority = strings.TrimSpace(req.Priority)
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.CustomerDocument = strings.TrimSpace(req.CustomerDocument)
	req.CustomerPhone = strings.TrimSpace(req.CustomerPhone)

	if req.SiteID == "" || req.ServiceID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "site_id and service_id are required")
		return
	}
	if !isValidUUID(req.SiteID) || !isValidUUID(req.ServiceID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "site_id and service_id must be UUIDs")
		return
	}

	created, err := h.store.CreateTicket(r.Context(), store.CreateTicketInput{
		SiteID:           req.SiteID,
		ServiceID:        req.ServiceID,
		Priority:         req.Priority,
		CustomerName:     req.CustomerName,
		CustomerDocument: req.CustomerDocument,
		CustomerPhone:    req.CustomerPhone,
		CreatedAt:        time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

type callNextRequest struct {
	SiteID    string `json:"site_id"`
	ServiceID string `json:"service_id"`
}

// calledTicketResponse pairs the dispatched ticket with the counter label
// the customer should walk to.
type calledTicketResponse struct {
	Ticket       models.Ticket `json:"ticket"`
	CounterLabel string        `json:"counter_label"`
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	info, ok := requireAgent(w, r)
	if !ok {
		return
	}

	var req callNextRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.SiteID = strings.TrimSpace(req.SiteID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	if req.SiteID == "" {
		req.SiteID = info.Agent.SiteID
	}
	if req.SiteID == "" || req.ServiceID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "site_id and service_id are required")
		return
	}
	if !isValidUUID(req.SiteID) || !isValidUUID(req.ServiceID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "site_id and service_id must be UUIDs")
		return
	}
	if !requireServiceAccess(w, r, info, req.ServiceID) {
		return
	}

	ticket, err := h.store.CallNext(r.Context(), store.CallNextInput{
		AgentID:   info.Agent.AgentID,
		SiteID:    req.SiteID,
		ServiceID: req.ServiceID,
		CalledAt:  time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, calledTicketResponse{Ticket: ticket, CounterLabel: info.Agent.CounterLabel})
}

type activeTicketResponse struct {
	Ticket *models.Ticket `json:"ticket"`
}

func (h *Handler) handleActiveTicket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	info, ok := requireAgent(w, r)
	if !ok {
		return
	}

	now := time.Now().UTC()
	ticket, found, err := h.store.GetActiveTicket(r.Context(), info.Agent.AgentID, store.DayOf(now))
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, activeTicketResponse{})
		return
	}
	writeJSON(w, http.StatusOK, activeTicketResponse{Ticket: &ticket})
}

func (h *Handler) handleTicketByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tickets/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.handleGetTicket(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "actions" && r.Method == http.MethodPost:
		h.handleTicketAction(w, r, parts[0], parts[2])
	case len(parts) == 1 || (len(parts) == 3 && parts[1] == "actions"):
		w.WriteHeader(http.StatusMethodNotAllowed)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// ticketStatusResponse is the public self-service lookup. Anyone holding a
// ticket id can poll it, so customer contact fields stay off the wire.
type ticketStatusResponse struct {
	TicketID             string `json:"ticket_id"`
	DisplayCode          string `json:"display_code"`
	Status               string `json:"status"`
	QueuePosition        int    `json:"queue_position"`
	EstimatedWaitMinutes int    `json:"estimated_wait_minutes"`
	CounterLabel         string `json:"counter_label,omitempty"`
}

func (h *Handler) handleGetTicket(w http.ResponseWriter, r *http.Request, ticketID string) {
	if !isValidUUID(ticketID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "ticket_id must be a UUID")
		return
	}
	view, err := h.store.GetTicket(r.Context(), ticketID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticketStatusResponse{
		TicketID:             view.TicketID,
		DisplayCode:          view.DisplayCode,
		Status:               view.Status,
		QueuePosition:        view.QueuePosition,
		EstimatedWaitMinutes: view.EstimatedWaitMinutes,
		CounterLabel:         view.CounterLabel,
	})
}

type recallResponse struct {
	Ticket       models.Ticket `json:"ticket"`
	ForcedNoShow bool          `json:"forced_no_show"`
}

func (h *Handler) handleTicketAction(w http.ResponseWriter, r *http.Request, ticketID, action string) {
	info, ok := requireAgent(w, r)
	if !ok {
		return
	}
	if !isValidUUID(ticketID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "ticket_id must be a UUID")
		return
	}

	input := store.TicketActionInput{
		AgentID:    info.Agent.AgentID,
		TicketID:   ticketID,
		OccurredAt: time.Now().UTC(),
	}

	switch action {
	case "recall":
		ticket, forced, err := h.store.RecallTicket(r.Context(), input)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, recallResponse{Ticket: ticket, ForcedNoShow: forced})
	case "start":
		ticket, err := h.store.StartService(r.Context(), input)
		writeActionResult(w, ticket, err)
	case "finish":
		ticket, err := h.store.FinishTicket(r.Context(), input)
		writeActionResult(w, ticket, err)
	case "no-show":
		ticket, err := h.store.NoShowTicket(r.Context(), input)
		writeActionResult(w, ticket, err)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func writeActionResult(w http.ResponseWriter, ticket models.Ticket, err error) {
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleQueues(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	siteID := strings.TrimSpace(r.URL.Query().Get("site_id"))
	if siteID == "" || !isValidUUID(siteID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "site_id must be a UUID")
		return
	}

	counts, err := h.store.QueueCounts(r.Context(), siteID, store.DayOf(time.Now().UTC()))
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (h *Handler) handleBoard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	siteID := strings.TrimSpace(r.URL.Query().Get("site_id"))
	if siteID == "" || !isValidUUID(siteID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "site_id must be a UUID")
		return
	}

	now := time.Now().UTC()
	board, err := h.store.GetBoardState(r.Context(), siteID, store.DayOf(now), now)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	result, err := h.store.Login(r.Context(), store.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		At:       time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	info, ok := requireAgent(w, r)
	if !ok {
		return
	}

	if err := h.store.Logout(r.Context(), info.Session.SessionID, time.Now().UTC()); err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	info, ok := requireAgent(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, store.LoginResult{Session: info.Session, Agent: info.Agent})
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrSiteNotFound):
		return http.StatusNotFound, "site_not_found", "site not found"
	case errors.Is(err, store.ErrServiceNotFound):
		return http.StatusNotFound, "service_not_found", "service not found"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrAgentNotFound):
		return http.StatusNotFound, "agent_not_found", "agent not found"
	case errors.Is(err, store.ErrNoTicket):
		return http.StatusConflict, "queue_empty", "no tickets waiting"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "ticket state does not allow this action"
	case errors.Is(err, store.ErrNotTicketOwner):
		return http.StatusForbidden, "not_ticket_owner", "ticket assigned to another agent"
	case errors.Is(err, store.ErrActiveTicket):
		return http.StatusConflict, "active_ticket", "agent already has an active ticket"
	case errors.Is(err, store.ErrInvalidCredentials):
		return http.StatusUnauthorized, "unauthorized", "invalid credentials"
	case errors.Is(err, store.ErrSessionNotFound):
		return http.StatusUnauthorized, "unauthorized", "invalid session"
	case errors.Is(err, store.ErrEmailTaken):
		return http.StatusConflict, "email_taken", "email already registered"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
