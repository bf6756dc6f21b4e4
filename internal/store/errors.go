package store

import "errors"

var (
	ErrSiteNotFound       = errors.New("site not found")
	ErrServiceNotFound    = errors.New("service not found")
	ErrTicketNotFound     = errors.New("ticket not found")
	ErrAgentNotFound      = errors.New("agent not found")
	ErrNoTicket           = errors.New("no ticket waiting")
	ErrInvalidState       = errors.New("invalid ticket state")
	ErrNotTicketOwner     = errors.New("ticket owned by another agent")
	ErrActiveTicket       = errors.New("agent already has an active ticket")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSessionNotFound    = errors.New("session not found")
	ErrEmailTaken         = errors.New("email already registered")
)
