package postgres

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"digiturno/queue-service/internal/models"
	"digiturno/queue-service/internal/store"
)

func (s *Store) QueueCounts(ctx context.Context, siteID, day string) ([]store.ServiceBreakdown, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT sv.service_id, sv.name,
			COUNT(t.ticket_id) FILTER (WHERE t.status = 'waiting'),
			COUNT(t.ticket_id) FILTER (WHERE t.status = 'called'),
			COUNT(t.ticket_id) FILTER (WHERE t.status = 'in_service'),
			COUNT(t.ticket_id) FILTER (WHERE t.status = 'finished'),
			COUNT(t.ticket_id) FILTER (WHERE t.status = 'no_show'),
			COUNT(t.ticket_id)
		FROM services sv
		LEFT JOIN tickets t
			ON t.service_id = sv.service_id AND t.site_id = $1 AND t.ticket_date = $2
		WHERE sv.active
		GROUP BY sv.service_id, sv.name
		ORDER BY sv.name
	`, siteID, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make([]store.ServiceBreakdown, 0)
	for rows.Next() {
		var c store.ServiceBreakdown
		if err := rows.Scan(&c.ServiceID, &c.ServiceName, &c.Waiting, &c.Called,
			&c.InService, &c.Finished, &c.NoShow, &c.Total); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func (s *Store) GetBoardState(ctx context.Context, siteID, day string, now time.Time) (store.BoardState, error) {
	state := store.BoardState{
		Date:           day,
		Active:         make([]store.BoardTicket, 0),
		RecentFinished: make([]store.BoardFinished, 0),
		Queues:         make([]store.ServiceQueueCount, 0),
		UpdatedAt:      now,
	}

	rows, err := s.pool.Query(ctx, `
		SELECT t.display_code, t.status, sv.name, COALESCE(a.counter_label, ''),
			t.call_count, t.called_at
		FROM tickets t
		JOIN services sv ON sv.service_id = t.service_id
		LEFT JOIN agents a ON a.agent_id = t.agent_id
		WHERE t.site_id = $1 AND t.ticket_date = $2 AND t.status IN ($3, $4)
		ORDER BY t.called_at DESC
	`, siteID, day, models.StatusCalled, models.StatusInService)
	if err != nil {
		return store.BoardState{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var bt store.BoardTicket
		var calledAt sql.NullTime
		if err := rows.Scan(&bt.DisplayCode, &bt.Status, &bt.ServiceName, &bt.CounterLabel,
			&bt.CallCount, &calledAt); err != nil {
			return store.BoardState{}, err
		}
		bt.CalledAt = nullTimePtr(calledAt)
		state.Active = append(state.Active, bt)
	}
	if err := rows.Err(); err != nil {
		return store.BoardState{}, err
	}
	rows.Close()

	rows, err = s.pool.Query(ctx, `
		SELECT t.display_code, COALESCE(a.counter_label, '')
		FROM tickets t
		LEFT JOIN agents a ON a.agent_id = t.agent_id
		WHERE t.site_id = $1 AND t.ticket_date = $2 AND t.status = $3
		ORDER BY t.service_ended_at DESC
		LIMIT 5
	`, siteID, day, models.StatusFinished)
	if err != nil {
		return store.BoardState{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var bf store.BoardFinished
		if err := rows.Scan(&bf.DisplayCode, &bf.CounterLabel); err != nil {
			return store.BoardState{}, err
		}
		state.RecentFinished = append(state.RecentFinished, bf)
	}
	if err := rows.Err(); err != nil {
		return store.BoardState{}, err
	}

	counts, err := s.QueueCounts(ctx, siteID, day)
	if err != nil {
		return store.BoardState{}, err
	}
	for _, c := range counts {
		if c.Waiting > 0 {
			state.Queues = append(state.Queues, store.ServiceQueueCount{
				ServiceID:   c.ServiceID,
				ServiceName: c.ServiceName,
				Waiting:     c.Waiting,
			})
		}
	}
	return state, nil
}

func (s *Store) GetDashboard(ctx context.Context, siteID, day string) (store.Dashboard, error) {
	dashboard := store.Dashboard{
		Date:      day,
		ByService: make([]store.ServiceBreakdown, 0),
		Agents:    make([]models.Agent, 0),
	}

	siteFilter := ""
	args := []any{day}
	if siteID != "" {
		siteFilter = " AND site_id = $2"
		args = append(args, siteID)
	}

	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'waiting'),
			COUNT(*) FILTER (WHERE status = 'called'),
			COUNT(*) FILTER (WHERE status = 'in_service'),
			COUNT(*) FILTER (WHERE status = 'finished'),
			COUNT(*) FILTER (WHERE status = 'no_show'),
			COALESCE(ROUND(AVG(wait_seconds) FILTER (WHERE status = 'finished' AND wait_seconds > 0)), 0)::INT,
			COALESCE(ROUND(AVG(service_seconds) FILTER (WHERE status = 'finished' AND service_seconds > 0)), 0)::INT
		FROM tickets
		WHERE ticket_date = $1`+siteFilter,
		args...)
	if err := row.Scan(
		&dashboard.Summary.TotalTickets, &dashboard.Summary.Waiting,
		&dashboard.Summary.Called, &dashboard.Summary.InService,
		&dashboard.Summary.Finished, &dashboard.Summary.NoShow,
		&dashboard.Summary.AvgWaitSeconds, &dashboard.Summary.AvgServiceSeconds,
	); err != nil {
		return store.Dashboard{}, err
	}

	agentArgs := []any{}
	agentFilter := ""
	if siteID != "" {
		agentFilter = " AND site_id = $1"
		agentArgs = append(agentArgs, siteID)
	}
	row = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM agents
		WHERE active AND role = 'agent' AND presence = 'connected'`+agentFilter,
		agentArgs...)
	if err := row.Scan(&dashboard.Summary.ActiveAgents); err != nil {
		return store.Dashboard{}, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT sv.service_id, sv.name,
			COUNT(t.ticket_id) FILTER (WHERE t.status = 'waiting'),
			COUNT(t.ticket_id) FILTER (WHERE t.status = 'called'),
			COUNT(t.ticket_id) FILTER (WHERE t.status = 'in_service'),
			COUNT(t.ticket_id) FILTER (WHERE t.status = 'finished'),
			COUNT(t.ticket_id) FILTER (WHERE t.status = 'no_show'),
			COUNT(t.ticket_id)
		FROM services sv
		JOIN tickets t ON t.service_id = sv.service_id
		WHERE t.ticket_date = $1`+siteFilter+`
		GROUP BY sv.service_id, sv.name
		ORDER BY sv.name
	`, args...)
	if err != nil {
		return store.Dashboard{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var b store.ServiceBreakdown
		if err := rows.Scan(&b.ServiceID, &b.ServiceName, &b.Waiting, &b.Called,
			&b.InService, &b.Finished, &b.NoShow, &b.Total); err != nil {
			return store.Dashboard{}, err
		}
		dashboard.ByService = append(dashboard.ByService, b)
	}
	if err := rows.Err(); err != nil {
		return store.Dashboard{}, err
	}

	agents, err := s.listAgentsFiltered(ctx, siteID)
	if err != nil {
		return store.Dashboard{}, err
	}
	dashboard.Agents = agents
	return dashboard, nil
}

func (s *Store) ListReports(ctx context.Context, filter store.ReportFilter) ([]store.ReportRow, error) {
	query := `
		SELECT t.ticket_id, t.ticket_date, t.display_code,
			COALESCE(st.name, ''), COALESCE(sv.name, ''), COALESCE(a.name, ''),
			t.status, t.priority, t.customer_name, t.created_at,
			t.called_at, t.service_started_at, t.service_ended_at,
			t.wait_seconds, t.service_seconds, t.call_count
		FROM tickets t
		LEFT JOIN sites st ON st.site_id = t.site_id
		LEFT JOIN services sv ON sv.service_id = t.service_id
		LEFT JOIN agents a ON a.agent_id = t.agent_id
		WHERE t.ticket_date >= $1 AND t.ticket_date <= $2`
	args := []any{filter.FromDate, filter.ToDate}
	if filter.SiteID != "" {
		args = append(args, filter.SiteID)
		query += ` AND t.site_id = $` + strconv.Itoa(len(args))
	}
	if filter.ServiceID != "" {
		args = append(args, filter.ServiceID)
		query += ` AND t.service_id = $` + strconv.Itoa(len(args))
	}
	if filter.AgentID != "" {
		args = append(args, filter.AgentID)
		query += ` AND t.agent_id = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY t.ticket_date, t.display_code`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	report := make([]store.ReportRow, 0)
	for rows.Next() {
		var r store.ReportRow
		var calledAt, startedAt, endedAt sql.NullTime
		if err := rows.Scan(&r.TicketID, &r.TicketDate, &r.DisplayCode,
			&r.SiteName, &r.ServiceName, &r.AgentName,
			&r.Status, &r.Priority, &r.CustomerName, &r.CreatedAt,
			&calledAt, &startedAt, &endedAt,
			&r.WaitSeconds, &r.ServiceSeconds, &r.CallCount); err != nil {
			return nil, err
		}
		r.CalledAt = nullTimePtr(calledAt)
		r.ServiceStartedAt = nullTimePtr(startedAt)
		r.ServiceEndedAt = nullTimePtr(endedAt)
		report = append(report, r)
	}
	return report, rows.Err()
}
