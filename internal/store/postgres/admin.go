package postgres

import (
	"context"
	"errors"
	"sort"

	"digiturno/queue-service/internal/models"
	"digiturno/queue-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"
)

const agentColumns = `agent_id, COALESCE(site_id::text, ''), name, email, role, counter_label, presence, active`

func (s *Store) ListSites(ctx context.Context) ([]models.Site, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT site_id, name, address, active FROM sites ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sites := make([]models.Site, 0)
	for rows.Next() {
		var site models.Site
		if err := rows.Scan(&site.SiteID, &site.Name, &site.Address, &site.Active); err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

func (s *Store) CreateSite(ctx context.Context, name, address string) (models.Site, error) {
	site := models.Site{SiteID: uuid.NewString(), Name: name, Address: address, Active: true}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sites (site_id, name, address, active) VALUES ($1, $2, $3, TRUE)
	`, site.SiteID, site.Name, site.Address)
	if err != nil {
		return models.Site{}, err
	}
	return site, nil
}

func (s *Store) UpdateSite(ctx context.Context, input store.SiteInput) (models.Site, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE sites SET
			name = COALESCE($2, name),
			address = COALESCE($3, address),
			active = COALESCE($4, active)
		WHERE site_id = $1
		RETURNING site_id, name, address, active
	`, input.SiteID, input.Name, input.Address, input.Active)
	var site models.Site
	if err := row.Scan(&site.SiteID, &site.Name, &site.Address, &site.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Site{}, store.ErrSiteNotFound
		}
		return models.Site{}, err
	}
	return site, nil
}

func (s *Store) DeactivateSite(ctx context.Context, siteID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE sites SET active = FALSE WHERE site_id = $1`, siteID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrSiteNotFound
	}
	return nil
}

func (s *Store) ListServices(ctx context.Context) ([]models.Service, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT service_id, name, active FROM services ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	services := make([]models.Service, 0)
	for rows.Next() {
		var svc models.Service
		if err := rows.Scan(&svc.ServiceID, &svc.Name, &svc.Active); err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}

func (s *Store) CreateService(ctx context.Context, name string) (models.Service, error) {
	svc := models.Service{ServiceID: uuid.NewString(), Name: name, Active: true}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO services (service_id, name, active) VALUES ($1, $2, TRUE)
	`, svc.ServiceID, svc.Name)
	if err != nil {
		return models.Service{}, err
	}
	return svc, nil
}

func (s *Store) UpdateService(ctx context.Context, input store.ServiceInput) (models.Service, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE services SET
			name = COALESCE($2, name),
			active = COALESCE($3, active)
		WHERE service_id = $1
		RETURNING service_id, name, active
	`, input.ServiceID, input.Name, input.Active)
	var svc models.Service
	if err := row.Scan(&svc.ServiceID, &svc.Name, &svc.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Service{}, store.ErrServiceNotFound
		}
		return models.Service{}, err
	}
	return svc, nil
}

func (s *Store) DeactivateService(ctx context.Context, serviceID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE services SET active = FALSE WHERE service_id = $1`, serviceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrServiceNotFound
	}
	return nil
}

func (s *Store) ListAgents(ctx context.Context) ([]models.Agent, error) {
	return s.listAgentsFiltered(ctx, "")
}

func (s *Store) listAgentsFiltered(ctx context.Context, siteID string) ([]models.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents`
	args := []any{}
	if siteID != "" {
		query += ` WHERE site_id = $1`
		args = append(args, siteID)
	}
	query += ` ORDER BY name`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	agents := make([]models.Agent, 0)
	for rows.Next() {
		var agent models.Agent
		if err := rows.Scan(&agent.AgentID, &agent.SiteID, &agent.Name, &agent.Email,
			&agent.Role, &agent.CounterLabel, &agent.Presence, &agent.Active); err != nil {
			return nil, err
		}
		agent.AssignedServices = make([]string, 0)
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.attachAssignedServices(ctx, agents); err != nil {
		return nil, err
	}
	return agents, nil
}

func (s *Store) attachAssignedServices(ctx context.Context, agents []models.Agent) error {
	if len(agents) == 0 {
		return nil
	}
	rows, err := s.pool.Query(ctx, `SELECT agent_id, service_id FROM agent_services`)
	if err != nil {
		return err
	}
	defer rows.Close()

	byAgent := make(map[string][]string)
	for rows.Next() {
		var agentID, serviceID string
		if err := rows.Scan(&agentID, &serviceID); err != nil {
			return err
		}
		byAgent[agentID] = append(byAgent[agentID], serviceID)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for i := range agents {
		if assigned, ok := byAgent[agents[i].AgentID]; ok {
			sort.Strings(assigned)
			agents[i].AssignedServices = assigned
		}
	}
	return nil
}

func (s *Store) CreateAgent(ctx context.Context, input store.CreateAgentInput) (models.Agent, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return models.Agent{}, err
	}

	agent := models.Agent{
		AgentID:          uuid.NewString(),
		SiteID:           input.SiteID,
		Name:             input.Name,
		Email:            input.Email,
		Role:             input.Role,
		CounterLabel:     input.CounterLabel,
		Presence:         models.PresenceDisconnected,
		Active:           true,
		AssignedServices: make([]string, 0),
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO agents (agent_id, site_id, name, email, password_hash, role, counter_label, presence, active)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, $6, $7, $8, TRUE)
	`, agent.AgentID, agent.SiteID, agent.Name, agent.Email, string(hash),
		agent.Role, agent.CounterLabel, agent.Presence)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Agent{}, store.ErrEmailTaken
		}
		return models.Agent{}, err
	}
	return agent, nil
}

func (s *Store) UpdateAgent(ctx context.Context, input store.AgentUpdate) (models.Agent, error) {
	var passwordHash *string
	if input.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*input.Password), bcrypt.DefaultCost)
		if err != nil {
			return models.Agent{}, err
		}
		hashed := string(hash)
		passwordHash = &hashed
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE agents SET
			name = COALESCE($2, name),
			email = COALESCE($3, email),
			password_hash = COALESCE($4, password_hash),
			site_id = COALESCE(NULLIF($5, '')::uuid, site_id),
			role = COALESCE($6, role),
			counter_label = COALESCE($7, counter_label),
			active = COALESCE($8, active)
		WHERE agent_id = $1
		RETURNING `+agentColumns+`
	`, input.AgentID, input.Name, input.Email, passwordHash, input.SiteID,
		input.Role, input.CounterLabel, input.Active)

	var agent models.Agent
	if err := row.Scan(&agent.AgentID, &agent.SiteID, &agent.Name, &agent.Email,
		&agent.Role, &agent.CounterLabel, &agent.Presence, &agent.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Agent{}, store.ErrAgentNotFound
		}
		if isUniqueViolation(err) {
			return models.Agent{}, store.ErrEmailTaken
		}
		return models.Agent{}, err
	}

	agents := []models.Agent{agent}
	if err := s.attachAssignedServices(ctx, agents); err != nil {
		return models.Agent{}, err
	}
	return agents[0], nil
}

func (s *Store) DeactivateAgent(ctx context.Context, agentID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE agents SET active = FALSE WHERE agent_id = $1`, agentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrAgentNotFound
	}
	return nil
}

func (s *Store) AssignServices(ctx context.Context, agentID string, serviceIDs []string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var exists bool
	row := tx.QueryRow(ctx, `SELECT TRUE FROM agents WHERE agent_id = $1`, agentID)
	if err = row.Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrAgentNotFound
		}
		return err
	}

	if _, err = tx.Exec(ctx, `DELETE FROM agent_services WHERE agent_id = $1`, agentID); err != nil {
		return err
	}
	for _, serviceID := range serviceIDs {
		var serviceExists bool
		row := tx.QueryRow(ctx, `SELECT TRUE FROM services WHERE service_id = $1`, serviceID)
		if err = row.Scan(&serviceExists); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				err = store.ErrServiceNotFound
			}
			return err
		}
		if _, err = tx.Exec(ctx, `
			INSERT INTO agent_services (agent_id, service_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, agentID, serviceID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
