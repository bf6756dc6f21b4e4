package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"digiturno/queue-service/internal/models"
	"digiturno/queue-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// priorityRankSQL mirrors store.PriorityRank for in-database ordering:
// disability < pregnancy < elderly < none.
const priorityRankSQL = `CASE priority
	WHEN 'disability' THEN 0
	WHEN 'pregnancy' THEN 1
	WHEN 'elderly' THEN 2
	ELSE 3
END`

const ticketColumns = `ticket_id, site_id, service_id, agent_id, ticket_date, sequence_number,
	display_code, priority, status, call_count, created_at, called_at,
	service_started_at, service_ended_at, wait_seconds, service_seconds,
	customer_name, customer_document, customer_phone`

const (
	maxCustomerNameLen     = 200
	maxCustomerDocumentLen = 20
	maxCustomerPhoneLen    = 20
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (store.CreatedTicket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.CreatedTicket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var siteName string
	row := tx.QueryRow(ctx, `SELECT name FROM sites WHERE site_id = $1`, input.SiteID)
	if err = row.Scan(&siteName); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrSiteNotFound
		}
		return store.CreatedTicket{}, err
	}

	var serviceName string
	row = tx.QueryRow(ctx, `SELECT name FROM services WHERE service_id = $1`, input.ServiceID)
	if err = row.Scan(&serviceName); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrServiceNotFound
		}
		return store.CreatedTicket{}, err
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	day := store.DayOf(createdAt)
	priority := store.NormalizePriority(input.Priority)

	seq, err := nextSequenceNumber(ctx, tx, input.SiteID, day)
	if err != nil {
		return store.CreatedTicket{}, err
	}

	ticket := models.Ticket{
		TicketID:         uuid.NewString(),
		SiteID:           input.SiteID,
		ServiceID:        input.ServiceID,
		TicketDate:       day,
		SequenceNumber:   seq,
		DisplayCode:      store.DisplayCode(priority, seq),
		Priority:         priority,
		Status:           models.StatusWaiting,
		CreatedAt:        createdAt,
		CustomerName:     truncate(input.CustomerName, maxCustomerNameLen),
		CustomerDocument: truncate(input.CustomerDocument, maxCustomerDocumentLen),
		CustomerPhone:    truncate(input.CustomerPhone, maxCustomerPhoneLen),
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO tickets (
			ticket_id, site_id, service_id, ticket_date, sequence_number, display_code,
			priority, status, call_count, created_at, wait_seconds, service_seconds,
			customer_name, customer_document, customer_phone
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,0,$9,0,0,$10,$11,$12)
	`, ticket.TicketID, ticket.SiteID, ticket.ServiceID, ticket.TicketDate, ticket.SequenceNumber,
		ticket.DisplayCode, ticket.Priority, ticket.Status, ticket.CreatedAt,
		ticket.CustomerName, ticket.CustomerDocument, ticket.CustomerPhone)
	if err != nil {
		return store.CreatedTicket{}, err
	}

	// Position includes the new ticket itself, matching what the customer
	// sees on the printed stub.
	var position int
	row = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM tickets
		WHERE site_id = $1 AND service_id = $2 AND ticket_date = $3 AND status = $4
	`, input.SiteID, input.ServiceID, day, models.StatusWaiting)
	if err = row.Scan(&position); err != nil {
		return store.CreatedTicket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return store.CreatedTicket{}, err
	}

	return store.CreatedTicket{
		Ticket:               ticket,
		SiteName:             siteName,
		ServiceName:          serviceName,
		QueuePosition:        position,
		EstimatedWaitMinutes: store.EstimatedWaitMinutes(position),
	}, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (store.TicketView, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = $1`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.TicketView{}, store.ErrTicketNotFound
		}
		return store.TicketView{}, err
	}

	view := store.TicketView{Ticket: ticket}
	switch ticket.Status {
	case models.StatusWaiting:
		row := s.pool.QueryRow(ctx, `
			SELECT COUNT(*) FROM tickets
			WHERE site_id = $1 AND service_id = $2 AND ticket_date = $3
				AND status = $4 AND sequence_number < $5
		`, ticket.SiteID, ticket.ServiceID, ticket.TicketDate, models.StatusWaiting, ticket.SequenceNumber)
		if err := row.Scan(&view.QueuePosition); err != nil {
			return store.TicketView{}, err
		}
		view.EstimatedWaitMinutes = store.EstimatedWaitMinutes(view.QueuePosition)
	case models.StatusCalled, models.StatusInService:
		// Counter label is display-only; a missing agent row is not an error.
		row := s.pool.QueryRow(ctx, `SELECT counter_label FROM agents WHERE agent_id = $1`, ticket.AgentID)
		if err := row.Scan(&view.CounterLabel); err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return store.TicketView{}, err
		}
	}
	return view, nil
}

func (s *Store) CallNext(ctx context.Context, input store.CallNextInput) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	calledAt := input.CalledAt
	if calledAt.IsZero() {
		calledAt = time.Now().UTC()
	}
	day := store.DayOf(calledAt)

	var active int
	row := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM tickets
		WHERE agent_id = $1 AND ticket_date = $2 AND status IN ($3, $4)
	`, input.AgentID, day, models.StatusCalled, models.StatusInService)
	if err = row.Scan(&active); err != nil {
		return models.Ticket{}, err
	}
	if active > 0 {
		err = store.ErrActiveTicket
		return models.Ticket{}, err
	}

	var candidateID string
	var createdAt time.Time
	row = tx.QueryRow(ctx, `
		SELECT ticket_id, created_at FROM tickets
		WHERE site_id = $1 AND service_id = $2 AND ticket_date = $3 AND status = $4
		ORDER BY `+priorityRankSQL+`, sequence_number ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`, input.SiteID, input.ServiceID, day, models.StatusWaiting)
	if err = row.Scan(&candidateID, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrNoTicket
		}
		return models.Ticket{}, err
	}

	// Conditional write: only a ticket still waiting is flipped, so two
	// concurrent calls can never dispatch the same ticket.
	var ticket models.Ticket
	row = tx.QueryRow(ctx, `
		UPDATE tickets
		SET status = $2,
			agent_id = $3,
			call_count = 1,
			called_at = $4,
			wait_seconds = $5
		WHERE ticket_id = $1 AND status = $6
		RETURNING `+ticketColumns+`
	`, candidateID, models.StatusCalled, input.AgentID, calledAt,
		store.ElapsedSeconds(createdAt, calledAt), models.StatusWaiting)
	if ticket, err = scanTicket(row); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrNoTicket
		}
		// The partial unique index on active tickets backstops the count
		// guard when two calls from the same agent interleave.
		if isUniqueViolation(err) {
			err = store.ErrActiveTicket
		}
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) RecallTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	ticket, err := s.lockOwnedTicket(ctx, tx, input, "recall")
	if err != nil {
		return models.Ticket{}, false, err
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	if ticket.CallCount >= models.MaxCallCount {
		row := tx.QueryRow(ctx, `
			UPDATE tickets
			SET status = $2, service_ended_at = $3
			WHERE ticket_id = $1
			RETURNING `+ticketColumns+`
		`, ticket.TicketID, models.StatusNoShow, occurredAt)
		if ticket, err = scanTicket(row); err != nil {
			return models.Ticket{}, false, err
		}
		if err = tx.Commit(ctx); err != nil {
			return models.Ticket{}, false, err
		}
		return ticket, true, nil
	}

	row := tx.QueryRow(ctx, `
		UPDATE tickets
		SET call_count = call_count + 1, called_at = $2
		WHERE ticket_id = $1
		RETURNING `+ticketColumns+`
	`, ticket.TicketID, occurredAt)
	if ticket, err = scanTicket(row); err != nil {
		return models.Ticket{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, false, nil
}

func (s *Store) StartService(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	ticket, err := s.lockOwnedTicket(ctx, tx, input, "start_service")
	if err != nil {
		return models.Ticket{}, err
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	row := tx.QueryRow(ctx, `
		UPDATE tickets
		SET status = $2, service_started_at = $3
		WHERE ticket_id = $1
		RETURNING `+ticketColumns+`
	`, ticket.TicketID, models.StatusInService, occurredAt)
	if ticket, err = scanTicket(row); err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) FinishTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	ticket, err := s.lockOwnedTicket(ctx, tx, input, "finish")
	if err != nil {
		return models.Ticket{}, err
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	// A ticket finished straight from "called" never had an explicit
	// attention start; the call time stands in for it.
	serviceStart := ticket.ServiceStartedAt
	if serviceStart == nil {
		serviceStart = ticket.CalledAt
	}
	serviceSeconds := 0
	if serviceStart != nil {
		serviceSeconds = store.ElapsedSeconds(*serviceStart, occurredAt)
	}

	row := tx.QueryRow(ctx, `
		UPDATE tickets
		SET status = $2, service_ended_at = $3, service_seconds = $4
		WHERE ticket_id = $1
		RETURNING `+ticketColumns+`
	`, ticket.TicketID, models.StatusFinished, occurredAt, serviceSeconds)
	if ticket, err = scanTicket(row); err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}

	// Best-effort: the agent's open-session counter must never block or
	// roll back the finish itself.
	if _, err := s.pool.Exec(ctx, `
		UPDATE agent_sessions
		SET tickets_attended = tickets_attended + 1
		WHERE agent_id = $1 AND state = $2
	`, input.AgentID, models.SessionOpen); err != nil {
		log.Printf("session attended-count update failed agent=%s: %v", input.AgentID, err)
	}

	return ticket, nil
}

func (s *Store) NoShowTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	ticket, err := s.lockOwnedTicket(ctx, tx, input, "no_show")
	if err != nil {
		return models.Ticket{}, err
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	row := tx.QueryRow(ctx, `
		UPDATE tickets
		SET status = $2, service_ended_at = $3
		WHERE ticket_id = $1
		RETURNING `+ticketColumns+`
	`, ticket.TicketID, models.StatusNoShow, occurredAt)
	if ticket, err = scanTicket(row); err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) GetActiveTicket(ctx context.Context, agentID, day string) (models.Ticket, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE agent_id = $1 AND ticket_date = $2 AND status IN ($3, $4)
		ORDER BY called_at DESC
		LIMIT 1
	`, agentID, day, models.StatusCalled, models.StatusInService)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

// lockOwnedTicket loads a ticket FOR UPDATE and applies the ownership and
// state guards shared by all agent-initiated transitions.
func (s *Store) lockOwnedTicket(ctx context.Context, tx pgx.Tx, input store.TicketActionInput, action string) (models.Ticket, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE ticket_id = $1
		FOR UPDATE
	`, input.TicketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	if ticket.AgentID != input.AgentID {
		return models.Ticket{}, store.ErrNotTicketOwner
	}
	if !store.ValidTransition(action, ticket.Status) {
		return models.Ticket{}, store.ErrInvalidState
	}
	return ticket, nil
}

func nextSequenceNumber(ctx context.Context, tx pgx.Tx, siteID, day string) (int, error) {
	var next int
	row := tx.QueryRow(ctx, `
		INSERT INTO ticket_sequences (site_id, ticket_date, next_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (site_id, ticket_date)
		DO UPDATE SET next_number = ticket_sequences.next_number + 1
		RETURNING next_number
	`, siteID, day)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (models.Ticket, error) {
	var ticket models.Ticket
	var agentIDNull sql.NullString
	var calledAtNull sql.NullTime
	var startedAtNull sql.NullTime
	var endedAtNull sql.NullTime
	if err := row.Scan(
		&ticket.TicketID, &ticket.SiteID, &ticket.ServiceID, &agentIDNull,
		&ticket.TicketDate, &ticket.SequenceNumber, &ticket.DisplayCode,
		&ticket.Priority, &ticket.Status, &ticket.CallCount, &ticket.CreatedAt,
		&calledAtNull, &startedAtNull, &endedAtNull,
		&ticket.WaitSeconds, &ticket.ServiceSeconds,
		&ticket.CustomerName, &ticket.CustomerDocument, &ticket.CustomerPhone,
	); err != nil {
		return models.Ticket{}, err
	}
	if agentIDNull.Valid {
		ticket.AgentID = agentIDNull.String
	}
	ticket.CalledAt = nullTimePtr(calledAtNull)
	ticket.ServiceStartedAt = nullTimePtr(startedAtNull)
	ticket.ServiceEndedAt = nullTimePtr(endedAtNull)
	return ticket, nil
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
