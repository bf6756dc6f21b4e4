package models

import "time"

type Agent struct {
	AgentID          string   `json:"agent_id"`
	SiteID           string   `json:"site_id,omitempty"`
	Name             string   `json:"name"`
	Email            string   `json:"email"`
	Role             string   `json:"role"`
	CounterLabel     string   `json:"counter_label"`
	Presence         string   `json:"presence"`
	Active           bool     `json:"active"`
	AssignedServices []string `json:"assigned_services"`
}

const (
	RoleAdmin = "admin"
	RoleAgent = "agent"
)

const (
	PresenceConnected    = "connected"
	PresenceDisconnected = "disconnected"
)

// AgentSession is one connected work window. State is explicit rather than
// inferred from a missing end timestamp; at most one open session exists
// per agent.
type AgentSession struct {
	SessionID       string     `json:"session_id"`
	AgentID         string     `json:"agent_id"`
	SiteID          string     `json:"site_id,omitempty"`
	State           string     `json:"state"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	TicketsAttended int        `json:"tickets_attended"`
}

const (
	SessionOpen   = "open"
	SessionClosed = "closed"
)
