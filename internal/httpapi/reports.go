package httpapi

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"strings"
	"time"

	"digiturno/queue-service/internal/store"
)

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := requireAdmin(w, r); !ok {
		return
	}

	siteID := strings.TrimSpace(r.URL.Query().Get("site_id"))
	if siteID != "" && !isValidUUID(siteID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "site_id must be a UUID")
		return
	}

	dashboard, err := h.store.GetDashboard(r.Context(), siteID, store.DayOf(time.Now().UTC()))
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, dashboard)
}

func (h *Handler) handleReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	filter, ok := reportFilterFromQuery(w, r)
	if !ok {
		return
	}

	report, err := h.store.ListReports(r.Context(), filter)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleReportExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	filter, ok := reportFilterFromQuery(w, r)
	if !ok {
		return
	}

	report, err := h.store.ListReports(r.Context(), filter)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	filename := "tickets_" + filter.FromDate + "_" + filter.ToDate + ".csv"
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)

	writer := csv.NewWriter(w)
	_ = writer.Write([]string{
		"ticket_date", "display_code", "site", "service", "agent",
		"status", "priority", "customer_name", "created_at", "called_at",
		"service_started_at", "service_ended_at", "wait_seconds",
		"service_seconds", "call_count",
	})
	for _, row := range report {
		_ = writer.Write([]string{
			row.TicketDate,
			row.DisplayCode,
			row.SiteName,
			row.ServiceName,
			row.AgentName,
			row.Status,
			row.Priority,
			row.CustomerName,
			row.CreatedAt.Format(time.RFC3339),
			formatTimePtr(row.CalledAt),
			formatTimePtr(row.ServiceStartedAt),
			formatTimePtr(row.ServiceEndedAt),
			strconv.Itoa(row.WaitSeconds),
			strconv.Itoa(row.ServiceSeconds),
			strconv.Itoa(row.CallCount),
		})
	}
	writer.Flush()
}

func reportFilterFromQuery(w http.ResponseWriter, r *http.Request) (store.ReportFilter, bool) {
	query := r.URL.Query()
	today := store.DayOf(time.Now().UTC())

	filter := store.ReportFilter{
		FromDate:  strings.TrimSpace(query.Get("from")),
		ToDate:    strings.TrimSpace(query.Get("to")),
		SiteID:    strings.TrimSpace(query.Get("site_id")),
		ServiceID: strings.TrimSpace(query.Get("service_id")),
		AgentID:   strings.TrimSpace(query.Get("agent_id")),
	}
	if filter.FromDate == "" {
		filter.FromDate = today
	}
	if filter.ToDate == "" {
		filter.ToDate = today
	}
	if !isValidDate(filter.FromDate) || !isValidDate(filter.ToDate) {
		writeError(w, http.StatusBadRequest, "invalid_request", "from and to must be YYYY-MM-DD dates")
		return store.ReportFilter{}, false
	}
	if filter.FromDate > filter.ToDate {
		writeError(w, http.StatusBadRequest, "invalid_request", "from must not be after to")
		return store.ReportFilter{}, false
	}
	for _, id := range []string{filter.SiteID, filter.ServiceID, filter.AgentID} {
		if id != "" && !isValidUUID(id) {
			writeError(w, http.StatusBadRequest, "invalid_request", "site_id, service_id, and agent_id must be UUIDs")
			return store.ReportFilter{}, false
		}
	}
	return filter, true
}

func isValidDate(value string) bool {
	_, err := time.Parse("2006-01-02", value)
	return err == nil
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
