package models

import "time"

// Ticket is one customer's queue entry. Sequence numbers restart at 1 for
// every (site, day) pair; DisplayCode carries the priority letter plus the
// zero-padded sequence, e.g. "M-007".
type Ticket struct {
	TicketID         string     `json:"ticket_id"`
	SiteID           string     `json:"site_id"`
	ServiceID        string     `json:"service_id"`
	AgentID          string     `json:"agent_id,omitempty"`
	TicketDate       string     `json:"ticket_date"`
	SequenceNumber   int        `json:"sequence_number"`
	DisplayCode      string     `json:"display_code"`
	Priority         string     `json:"priority"`
	Status           string     `json:"status"`
	CallCount        int        `json:"call_count"`
	CreatedAt        time.Time  `json:"created_at"`
	CalledAt         *time.Time `json:"called_at,omitempty"`
	ServiceStartedAt *time.Time `json:"service_started_at,omitempty"`
	ServiceEndedAt   *time.Time `json:"service_ended_at,omitempty"`
	WaitSeconds      int        `json:"wait_seconds"`
	ServiceSeconds   int        `json:"service_seconds"`
	CustomerName     string     `json:"customer_name,omitempty"`
	CustomerDocument string     `json:"customer_document,omitempty"`
	CustomerPhone    string     `json:"customer_phone,omitempty"`
}

const (
	StatusWaiting   = "waiting"
	StatusCalled    = "called"
	StatusInService = "in_service"
	StatusFinished  = "finished"
	StatusNoShow    = "no_show"
)

const (
	PriorityDisability = "disability"
	PriorityPregnancy  = "pregnancy"
	PriorityElderly    = "elderly"
	PriorityNone       = "none"
)

// MaxCallCount is the total number of announcements a ticket gets (one
// initial call plus two re-calls) before it is forced to no_show.
const MaxCallCount = 3
