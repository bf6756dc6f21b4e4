package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"digiturno/queue-service/internal/models"
	"digiturno/queue-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestPriorityOrdering(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	siteID := uuid.NewString()
	serviceID := uuid.NewString()
	agentA := uuid.NewString()
	agentB := uuid.NewString()
	agentC := uuid.NewString()
	seedBaseData(t, ctx, pool, siteID, serviceID, agentA, agentB, agentC)

	createTicket(t, ctx, st, siteID, serviceID, "none")
	createTicket(t, ctx, st, siteID, serviceID, "disability")
	createTicket(t, ctx, st, siteID, serviceID, "elderly")

	var codes []string
	for _, agentID := range []string{agentA, agentB, agentC} {
		ticket, err := st.CallNext(ctx, store.CallNextInput{
			AgentID:   agentID,
			SiteID:    siteID,
			ServiceID: serviceID,
			CalledAt:  time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("call next: %v", err)
		}
		codes = append(codes, ticket.DisplayCode)
	}

	want := []string{"D-002", "M-003", "A-001"}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("dispatch order %v, want %v", codes, want)
		}
	}
}

func TestCallNextConcurrency(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	siteID := uuid.NewString()
	serviceID := uuid.NewString()
	agentA := uuid.NewString()
	agentB := uuid.NewString()
	seedBaseData(t, ctx, pool, siteID, serviceID, agentA, agentB)

	createTicket(t, ctx, st, siteID, serviceID, "none")
	createTicket(t, ctx, st, siteID, serviceID, "none")

	var wg sync.WaitGroup
	results := make(chan callResult, 2)
	for _, agentID := range []string{agentA, agentB} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			ticket, err := st.CallNext(ctx, store.CallNextInput{
				AgentID:   id,
				SiteID:    siteID,
				ServiceID: serviceID,
				CalledAt:  time.Now().UTC(),
			})
			results <- callResult{ticketID: ticket.TicketID, err: err}
		}(agentID)
	}
	wg.Wait()
	close(results)

	var ids []string
	for result := range results {
		if result.err != nil {
			t.Fatalf("call next error: %v", result.err)
		}
		ids = append(ids, result.ticketID)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 tickets, got %d", len(ids))
	}
	if ids[0] == ids[1] {
		t.Fatalf("expected distinct tickets, got %s", ids[0])
	}
}

func TestSequenceScopedBySiteAndDay(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	siteA := uuid.NewString()
	siteB := uuid.NewString()
	serviceID := uuid.NewString()
	seedBaseData(t, ctx, pool, siteA, serviceID, uuid.NewString())
	if _, err := pool.Exec(ctx, `
		INSERT INTO sites (site_id, name, address, active) VALUES ($1, 'Site B', '', true)
	`, siteB); err != nil {
		t.Fatalf("insert site B: %v", err)
	}

	monday := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	tuesday := monday.Add(24 * time.Hour)

	first := createTicketAt(t, ctx, st, siteA, serviceID, "none", monday)
	second := createTicketAt(t, ctx, st, siteA, serviceID, "none", monday)
	otherSite := createTicketAt(t, ctx, st, siteB, serviceID, "none", monday)
	nextDay := createTicketAt(t, ctx, st, siteA, serviceID, "none", tuesday)

	if first.Ticket.SequenceNumber != 1 || second.Ticket.SequenceNumber != 2 {
		t.Fatalf("same-site sequence %d, %d, want 1, 2", first.Ticket.SequenceNumber, second.Ticket.SequenceNumber)
	}
	if otherSite.Ticket.SequenceNumber != 1 {
		t.Fatalf("other site sequence %d, want 1", otherSite.Ticket.SequenceNumber)
	}
	if nextDay.Ticket.SequenceNumber != 1 {
		t.Fatalf("next day sequence %d, want 1", nextDay.Ticket.SequenceNumber)
	}
}

func TestRecallCapForcesNoShow(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	siteID := uuid.NewString()
	serviceID := uuid.NewString()
	agentID := uuid.NewString()
	seedBaseData(t, ctx, pool, siteID, serviceID, agentID)

	createTicket(t, ctx, st, siteID, serviceID, "none")
	called, err := st.CallNext(ctx, store.CallNextInput{
		AgentID:   agentID,
		SiteID:    siteID,
		ServiceID: serviceID,
		CalledAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("call next: %v", err)
	}
	if called.CallCount != 1 {
		t.Fatalf("call count %d, want 1", called.CallCount)
	}

	input := store.TicketActionInput{AgentID: agentID, TicketID: called.TicketID, OccurredAt: time.Now().UTC()}
	for want := 2; want <= 3; want++ {
		ticket, forced, err := st.RecallTicket(ctx, input)
		if err != nil {
			t.Fatalf("recall: %v", err)
		}
		if forced {
			t.Fatalf("recall %d forced no-show early", want)
		}
		if ticket.CallCount != want {
			t.Fatalf("call count %d, want %d", ticket.CallCount, want)
		}
	}

	ticket, forced, err := st.RecallTicket(ctx, input)
	if err != nil {
		t.Fatalf("final recall: %v", err)
	}
	if !forced {
		t.Fatal("expected forced no-show at call cap")
	}
	if ticket.Status != models.StatusNoShow {
		t.Fatalf("status %q, want no_show", ticket.Status)
	}
	if ticket.ServiceEndedAt == nil {
		t.Fatal("expected service_ended_at on forced no-show")
	}
}

func TestCallNextActiveTicketGuard(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	siteID := uuid.NewString()
	serviceID := uuid.NewString()
	agentID := uuid.NewString()
	seedBaseData(t, ctx, pool, siteID, serviceID, agentID)

	createTicket(t, ctx, st, siteID, serviceID, "none")
	createTicket(t, ctx, st, siteID, serviceID, "none")

	input := store.CallNextInput{
		AgentID:   agentID,
		SiteID:    siteID,
		ServiceID: serviceID,
		CalledAt:  time.Now().UTC(),
	}
	if _, err := st.CallNext(ctx, input); err != nil {
		t.Fatalf("first call next: %v", err)
	}
	if _, err := st.CallNext(ctx, input); !errors.Is(err, store.ErrActiveTicket) {
		t.Fatalf("expected ErrActiveTicket, got %v", err)
	}
}

func TestCallNextSameAgentConcurrent(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	siteID := uuid.NewString()
	serviceID := uuid.NewString()
	agentID := uuid.NewString()
	seedBaseData(t, ctx, pool, siteID, serviceID, agentID)

	createTicket(t, ctx, st, siteID, serviceID, "none")
	createTicket(t, ctx, st, siteID, serviceID, "none")

	var wg sync.WaitGroup
	results := make(chan callResult, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticket, err := st.CallNext(ctx, store.CallNextInput{
				AgentID:   agentID,
				SiteID:    siteID,
				ServiceID: serviceID,
				CalledAt:  time.Now().UTC(),
			})
			results <- callResult{ticketID: ticket.TicketID, err: err}
		}()
	}
	wg.Wait()
	close(results)

	var dispatched int
	for result := range results {
		if result.err == nil {
			dispatched++
			continue
		}
		if !errors.Is(result.err, store.ErrActiveTicket) {
			t.Fatalf("expected ErrActiveTicket, got %v", result.err)
		}
	}
	if dispatched != 1 {
		t.Fatalf("expected exactly one dispatched ticket, got %d", dispatched)
	}
}

func TestFinishFromCalledComputesServiceSeconds(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	siteID := uuid.NewString()
	serviceID := uuid.NewString()
	agentID := uuid.NewString()
	seedBaseData(t, ctx, pool, siteID, serviceID, agentID)

	createdAt := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	createTicketAt(t, ctx, st, siteID, serviceID, "none", createdAt)

	calledAt := createdAt.Add(2 * time.Minute)
	called, err := st.CallNext(ctx, store.CallNextInput{
		AgentID:   agentID,
		SiteID:    siteID,
		ServiceID: serviceID,
		CalledAt:  calledAt,
	})
	if err != nil {
		t.Fatalf("call next: %v", err)
	}
	if called.WaitSeconds != 120 {
		t.Fatalf("wait seconds %d, want 120", called.WaitSeconds)
	}

	finished, err := st.FinishTicket(ctx, store.TicketActionInput{
		AgentID:    agentID,
		TicketID:   called.TicketID,
		OccurredAt: calledAt.Add(3 * time.Minute),
	})
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if finished.Status != models.StatusFinished {
		t.Fatalf("status %q, want finished", finished.Status)
	}
	if finished.ServiceSeconds != 180 {
		t.Fatalf("service seconds %d, want 180", finished.ServiceSeconds)
	}
}

func TestTicketPositionIsLive(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	siteID := uuid.NewString()
	serviceID := uuid.NewString()
	agentID := uuid.NewString()
	seedBaseData(t, ctx, pool, siteID, serviceID, agentID)

	createTicket(t, ctx, st, siteID, serviceID, "none")
	second := createTicket(t, ctx, st, siteID, serviceID, "none")

	view, err := st.GetTicket(ctx, second.Ticket.TicketID)
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	if view.QueuePosition != 1 {
		t.Fatalf("position %d, want 1", view.QueuePosition)
	}

	if _, err := st.CallNext(ctx, store.CallNextInput{
		AgentID:   agentID,
		SiteID:    siteID,
		ServiceID: serviceID,
		CalledAt:  time.Now().UTC(),
	}); err != nil {
		t.Fatalf("call next: %v", err)
	}

	view, err = st.GetTicket(ctx, second.Ticket.TicketID)
	if err != nil {
		t.Fatalf("get ticket after dispatch: %v", err)
	}
	if view.QueuePosition != 0 {
		t.Fatalf("position after dispatch %d, want 0", view.QueuePosition)
	}
}

func TestLoginSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	siteID := uuid.NewString()
	serviceID := uuid.NewString()
	seedBaseData(t, ctx, pool, siteID, serviceID, uuid.NewString())

	agent, err := st.CreateAgent(ctx, store.CreateAgentInput{
		Name:         "Ana",
		Email:        "ana@example.com",
		Password:     "secret-password",
		SiteID:       siteID,
		Role:         models.RoleAgent,
		CounterLabel: "2",
	})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}

	if _, err := st.Login(ctx, store.LoginInput{Email: "ana@example.com", Password: "wrong"}); !errors.Is(err, store.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	result, err := st.Login(ctx, store.LoginInput{Email: "ana@example.com", Password: "secret-password", At: time.Now().UTC()})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if result.Agent.Presence != models.PresenceConnected {
		t.Fatalf("presence %q, want connected", result.Agent.Presence)
	}

	again, err := st.Login(ctx, store.LoginInput{Email: "ana@example.com", Password: "secret-password", At: time.Now().UTC()})
	if err != nil {
		t.Fatalf("second login: %v", err)
	}
	if again.Session.SessionID != result.Session.SessionID {
		t.Fatal("expected second login to reuse the open session")
	}

	session, sessionAgent, err := st.GetSession(ctx, result.Session.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.State != models.SessionOpen || sessionAgent.AgentID != agent.AgentID {
		t.Fatalf("unexpected session %+v agent %+v", session, sessionAgent)
	}

	createTicket(t, ctx, st, siteID, serviceID, "none")
	called, err := st.CallNext(ctx, store.CallNextInput{
		AgentID:   agent.AgentID,
		SiteID:    siteID,
		ServiceID: serviceID,
		CalledAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("call next: %v", err)
	}
	if _, err := st.FinishTicket(ctx, store.TicketActionInput{
		AgentID:    agent.AgentID,
		TicketID:   called.TicketID,
		OccurredAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("finish: %v", err)
	}

	session, _, err = st.GetSession(ctx, result.Session.SessionID)
	if err != nil {
		t.Fatalf("get session after finish: %v", err)
	}
	if session.TicketsAttended != 1 {
		t.Fatalf("tickets attended %d, want 1", session.TicketsAttended)
	}

	if err := st.Logout(ctx, result.Session.SessionID, time.Now().UTC()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, _, err := st.GetSession(ctx, result.Session.SessionID); !errors.Is(err, store.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after logout, got %v", err)
	}
}

func TestReportsOrderedByDisplayCode(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	siteID := uuid.NewString()
	serviceID := uuid.NewString()
	seedBaseData(t, ctx, pool, siteID, serviceID)

	day := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	createTicketAt(t, ctx, st, siteID, serviceID, "disability", day)              // D-001
	createTicketAt(t, ctx, st, siteID, serviceID, "none", day.Add(time.Minute))   // A-002
	createTicketAt(t, ctx, st, siteID, serviceID, "elderly", day.Add(2*time.Minute)) // M-003

	report, err := st.ListReports(ctx, store.ReportFilter{FromDate: "2026-03-09", ToDate: "2026-03-09"})
	if err != nil {
		t.Fatalf("list reports: %v", err)
	}
	if len(report) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(report))
	}
	want := []string{"A-002", "D-001", "M-003"}
	for i := range want {
		if report[i].DisplayCode != want[i] {
			t.Fatalf("row %d display code %q, want %q", i, report[i].DisplayCode, want[i])
		}
	}
}

type callResult struct {
	ticketID string
	err      error
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := createSchema(ctx, dsn, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	pool, err := newPoolWithSchema(ctx, dsn, schema)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	store := NewStore(pool)
	cleanup := func() {
		pool.Close()
		_ = dropSchema(context.Background(), dsn, schema)
	}
	return store, pool, cleanup
}

func createSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "CREATE SCHEMA "+schema)
	return err
}

func dropSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
	return err
}

func newPoolWithSchema(ctx context.Context, dsn, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	return pgxpool.NewWithConfig(ctx, cfg)
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	dir := filepath.Join("..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(content)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return err
		}
	}
	return nil
}

func seedBaseData(t *testing.T, ctx context.Context, pool *pgxpool.Pool, siteID, serviceID string, agentIDs ...string) {
	t.Helper()
	if _, err := pool.Exec(ctx, `
		INSERT INTO sites (site_id, name, address, active) VALUES ($1, 'Site', 'Main St', true)
	`, siteID); err != nil {
		t.Fatalf("insert site: %v", err)
	}
	if _, err := pool.Exec(ctx, `
		INSERT INTO services (service_id, name, active) VALUES ($1, 'Service', true)
	`, serviceID); err != nil {
		t.Fatalf("insert service: %v", err)
	}
	for i, agentID := range agentIDs {
		if _, err := pool.Exec(ctx, `
			INSERT INTO agents (agent_id, site_id, name, email, password_hash, role, counter_label, presence, active)
			VALUES ($1, $2, 'Agent', $3, 'x', 'agent', $4, 'connected', true)
		`, agentID, siteID, agentID+"@example.com", strings.Repeat("1", i+1)); err != nil {
			t.Fatalf("insert agent: %v", err)
		}
	}
}

func createTicket(t *testing.T, ctx context.Context, st *Store, siteID, serviceID, priority string) store.CreatedTicket {
	t.Helper()
	return createTicketAt(t, ctx, st, siteID, serviceID, priority, time.Now().UTC())
}

func createTicketAt(t *testing.T, ctx context.Context, st *Store, siteID, serviceID, priority string, createdAt time.Time) store.CreatedTicket {
	t.Helper()
	created, err := st.CreateTicket(ctx, store.CreateTicketInput{
		SiteID:    siteID,
		ServiceID: serviceID,
		Priority:  priority,
		CreatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	return created
}
