package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"digiturno/queue-service/internal/models"
	"digiturno/queue-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

func (s *Store) Login(ctx context.Context, input store.LoginInput) (store.LoginResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.LoginResult{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var agent models.Agent
	var passwordHash string
	row := tx.QueryRow(ctx, `
		SELECT `+agentColumns+`, password_hash FROM agents
		WHERE email = $1 AND active
	`, input.Email)
	if err = row.Scan(&agent.AgentID, &agent.SiteID, &agent.Name, &agent.Email,
		&agent.Role, &agent.CounterLabel, &agent.Presence, &agent.Active,
		&passwordHash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrInvalidCredentials
		}
		return store.LoginResult{}, err
	}

	if err = bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(input.Password)); err != nil {
		err = store.ErrInvalidCredentials
		return store.LoginResult{}, err
	}

	at := input.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	// A second login reuses the open session instead of stacking a new one.
	session, found, err := scanOpenSession(tx.QueryRow(ctx, `
		SELECT session_id, agent_id, COALESCE(site_id::text, ''), state, started_at, ended_at, tickets_attended
		FROM agent_sessions
		WHERE agent_id = $1 AND state = $2
	`, agent.AgentID, models.SessionOpen))
	if err != nil {
		return store.LoginResult{}, err
	}
	if !found {
		session = models.AgentSession{
			SessionID: uuid.NewString(),
			AgentID:   agent.AgentID,
			SiteID:    agent.SiteID,
			State:     models.SessionOpen,
			StartedAt: at,
		}
		if _, err = tx.Exec(ctx, `
			INSERT INTO agent_sessions (session_id, agent_id, site_id, state, started_at, tickets_attended)
			VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, 0)
		`, session.SessionID, session.AgentID, session.SiteID, session.State, session.StartedAt); err != nil {
			return store.LoginResult{}, err
		}
	}

	if _, err = tx.Exec(ctx, `
		UPDATE agents SET presence = $2 WHERE agent_id = $1
	`, agent.AgentID, models.PresenceConnected); err != nil {
		return store.LoginResult{}, err
	}
	agent.Presence = models.PresenceConnected

	if err = tx.Commit(ctx); err != nil {
		return store.LoginResult{}, err
	}

	agents := []models.Agent{agent}
	if err := s.attachAssignedServices(ctx, agents); err != nil {
		return store.LoginResult{}, err
	}
	return store.LoginResult{Session: session, Agent: agents[0]}, nil
}

func (s *Store) Logout(ctx context.Context, sessionID string, at time.Time) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if at.IsZero() {
		at = time.Now().UTC()
	}

	var agentID string
	row := tx.QueryRow(ctx, `
		UPDATE agent_sessions
		SET state = $2, ended_at = $3
		WHERE session_id = $1 AND state = $4
		RETURNING agent_id
	`, sessionID, models.SessionClosed, at, models.SessionOpen)
	if err = row.Scan(&agentID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrSessionNotFound
		}
		return err
	}

	if _, err = tx.Exec(ctx, `
		UPDATE agents SET presence = $2 WHERE agent_id = $1
	`, agentID, models.PresenceDisconnected); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (models.AgentSession, models.Agent, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT s.session_id, s.agent_id, COALESCE(s.site_id::text, ''), s.state, s.started_at, s.ended_at, s.tickets_attended,
			a.agent_id, COALESCE(a.site_id::text, ''), a.name, a.email, a.role, a.counter_label, a.presence, a.active
		FROM agent_sessions s
		JOIN agents a ON a.agent_id = s.agent_id
		WHERE s.session_id = $1 AND s.state = $2 AND a.active
	`, sessionID, models.SessionOpen)

	var session models.AgentSession
	var agent models.Agent
	var endedAt sql.NullTime
	if err := row.Scan(
		&session.SessionID, &session.AgentID, &session.SiteID, &session.State,
		&session.StartedAt, &endedAt, &session.TicketsAttended,
		&agent.AgentID, &agent.SiteID, &agent.Name, &agent.Email,
		&agent.Role, &agent.CounterLabel, &agent.Presence, &agent.Active,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.AgentSession{}, models.Agent{}, store.ErrSessionNotFound
		}
		return models.AgentSession{}, models.Agent{}, err
	}
	session.EndedAt = nullTimePtr(endedAt)

	agents := []models.Agent{agent}
	if err := s.attachAssignedServices(ctx, agents); err != nil {
		return models.AgentSession{}, models.Agent{}, err
	}
	return session, agents[0], nil
}

func scanOpenSession(row pgx.Row) (models.AgentSession, bool, error) {
	var session models.AgentSession
	var endedAt sql.NullTime
	if err := row.Scan(&session.SessionID, &session.AgentID, &session.SiteID,
		&session.State, &session.StartedAt, &endedAt, &session.TicketsAttended); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.AgentSession{}, false, nil
		}
		return models.AgentSession{}, false, err
	}
	session.EndedAt = nullTimePtr(endedAt)
	return session, true, nil
}
