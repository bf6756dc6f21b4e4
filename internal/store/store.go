package store

import (
	"context"
	"time"

	"digiturno/queue-service/internal/models"
)

type CreateTicketInput struct {
	SiteID           string
	ServiceID        string
	Priority         string
	CustomerName     string
	CustomerDocument string
	CustomerPhone    string
	CreatedAt        time.Time
}

// CreatedTicket is the creation receipt: the stored ticket plus the
// position estimate handed to the customer (waiting tickets ahead of it
// for the same service, plus itself).
type CreatedTicket struct {
	Ticket               models.Ticket `json:"ticket"`
	SiteName             string        `json:"site_name"`
	ServiceName          string        `json:"service_name"`
	QueuePosition        int           `json:"queue_position"`
	EstimatedWaitMinutes int           `json:"estimated_wait_minutes"`
}

type CallNextInput struct {
	AgentID   string
	SiteID    string
	ServiceID string
	CalledAt  time.Time
}

type TicketActionInput struct {
	AgentID    string
	TicketID   string
	OccurredAt time.Time
}

// TicketView is the public single-ticket projection. Position is live
// (waiting tickets with a smaller sequence for the same site, service and
// day) and zero once the ticket leaves the waiting state.
type TicketView struct {
	models.Ticket
	QueuePosition        int    `json:"queue_position"`
	EstimatedWaitMinutes int    `json:"estimated_wait_minutes"`
	CounterLabel         string `json:"counter_label,omitempty"`
}

// ServiceQueueCount is the board's compact queue entry; the full
// per-status projection is ServiceBreakdown.
type ServiceQueueCount struct {
	ServiceID   string `json:"service_id"`
	ServiceName string `json:"service_name"`
	Waiting     int    `json:"waiting"`
}

type BoardTicket struct {
	DisplayCode  string     `json:"display_code"`
	Status       string     `json:"status"`
	ServiceName  string     `json:"service_name"`
	CounterLabel string     `json:"counter_label"`
	CallCount    int        `json:"call_count"`
	CalledAt     *time.Time `json:"called_at,omitempty"`
}

type BoardFinished struct {
	DisplayCode  string `json:"display_code"`
	CounterLabel string `json:"counter_label"`
}

// BoardState is the public display projection: tickets being announced or
// attended, the most recently finished ones, and the non-empty queues.
type BoardState struct {
	Date           string              `json:"date"`
	Active         []BoardTicket       `json:"active"`
	RecentFinished []BoardFinished     `json:"recent_finished"`
	Queues         []ServiceQueueCount `json:"queues"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

type DashboardSummary struct {
	TotalTickets      int `json:"total_tickets"`
	Waiting           int `json:"waiting"`
	Called            int `json:"called"`
	InService         int `json:"in_service"`
	Finished          int `json:"finished"`
	NoShow            int `json:"no_show"`
	ActiveAgents      int `json:"active_agents"`
	AvgWaitSeconds    int `json:"avg_wait_seconds"`
	AvgServiceSeconds int `json:"avg_service_seconds"`
}

type ServiceBreakdown struct {
	ServiceID   string `json:"service_id"`
	ServiceName string `json:"service_name"`
	Waiting     int    `json:"waiting"`
	Called      int    `json:"called"`
	InService   int    `json:"in_service"`
	Finished    int    `json:"finished"`
	NoShow      int    `json:"no_show"`
	Total       int    `json:"total"`
}

type Dashboard struct {
	Date      string             `json:"date"`
	Summary   DashboardSummary   `json:"summary"`
	ByService []ServiceBreakdown `json:"by_service"`
	Agents    []models.Agent     `json:"agents"`
}

type ReportFilter struct {
	FromDate  string
	ToDate    string
	SiteID    string
	ServiceID string
	AgentID   string
}

type ReportRow struct {
	TicketID         string     `json:"ticket_id"`
	TicketDate       string     `json:"ticket_date"`
	DisplayCode      string     `json:"display_code"`
	SiteName         string     `json:"site_name"`
	ServiceName      string     `json:"service_name"`
	AgentName        string     `json:"agent_name"`
	Status           string     `json:"status"`
	Priority         string     `json:"priority"`
	CustomerName     string     `json:"customer_name"`
	CreatedAt        time.Time  `json:"created_at"`
	CalledAt         *time.Time `json:"called_at,omitempty"`
	ServiceStartedAt *time.Time `json:"service_started_at,omitempty"`
	ServiceEndedAt   *time.Time `json:"service_ended_at,omitempty"`
	WaitSeconds      int        `json:"wait_seconds"`
	ServiceSeconds   int        `json:"service_seconds"`
	CallCount        int        `json:"call_count"`
}

type SiteInput struct {
	SiteID  string
	Name    *string
	Address *string
	Active  *bool
}

type ServiceInput struct {
	ServiceID string
	Name      *string
	Active    *bool
}

type CreateAgentInput struct {
	Name         string
	Email        string
	Password     string
	SiteID       string
	Role         string
	CounterLabel string
}

type AgentUpdate struct {
	AgentID      string
	Name         *string
	Email        *string
	Password     *string
	SiteID       *string
	Role         *string
	CounterLabel *string
	Active       *bool
}

type LoginInput struct {
	Email    string
	Password string
	At       time.Time
}

type LoginResult struct {
	Session models.AgentSession `json:"session"`
	Agent   models.Agent        `json:"agent"`
}

type Store interface {
	CreateTicket(ctx context.Context, input CreateTicketInput) (CreatedTicket, error)
	GetTicket(ctx context.Context, ticketID string) (TicketView, error)
	CallNext(ctx context.Context, input CallNextInput) (models.Ticket, error)
	RecallTicket(ctx context.Context, input TicketActionInput) (models.Ticket, bool, error)
	StartService(ctx context.Context, input TicketActionInput) (models.Ticket, error)
	FinishTicket(ctx context.Context, input TicketActionInput) (models.Ticket, error)
	NoShowTicket(ctx context.Context, input TicketActionInput) (models.Ticket, error)
	GetActiveTicket(ctx context.Context, agentID, day string) (models.Ticket, bool, error)

	QueueCounts(ctx context.Context, siteID, day string) ([]ServiceBreakdown, error)
	GetBoardState(ctx context.Context, siteID, day string, now time.Time) (BoardState, error)
	GetDashboard(ctx context.Context, siteID, day string) (Dashboard, error)
	ListReports(ctx context.Context, filter ReportFilter) ([]ReportRow, error)

	ListSites(ctx context.Context) ([]models.Site, error)
	CreateSite(ctx context.Context, name, address string) (models.Site, error)
	UpdateSite(ctx context.Context, input SiteInput) (models.Site, error)
	DeactivateSite(ctx context.Context, siteID string) error

	ListServices(ctx context.Context) ([]models.Service, error)
	CreateService(ctx context.Context, name string) (models.Service, error)
	UpdateService(ctx context.Context, input ServiceInput) (models.Service, error)
	DeactivateService(ctx context.Context, serviceID string) error

	ListAgents(ctx context.Context) ([]models.Agent, error)
	CreateAgent(ctx context.Context, input CreateAgentInput) (models.Agent, error)
	UpdateAgent(ctx context.Context, input AgentUpdate) (models.Agent, error)
	DeactivateAgent(ctx context.Context, agentID string) error
	AssignServices(ctx context.Context, agentID string, serviceIDs []string) error

	Login(ctx context.Context, input LoginInput) (LoginResult, error)
	Logout(ctx context.Context, sessionID string, at time.Time) error
	GetSession(ctx context.Context, sessionID string) (models.AgentSession, models.Agent, error)
}
