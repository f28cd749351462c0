package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresStore persists audit events in the abac_audit_events table
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL audit store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const insertEventSQL = `
	INSERT INTO abac_audit_events (
		id, event_id, event_type, occurred_at, request_id,
		actor_id, tenant_id, decision, policy_ids, payload, hash, prev_hash
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
	)
`

// Insert inserts a single audit event
func (s *PostgresStore) Insert(ctx context.Context, event Event) error {
	args, err := insertArgs(event)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, insertEventSQL, args...); err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// InsertBatch inserts multiple audit events in a single transaction
func (s *PostgresStore) InsertBatch(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertEventSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, event := range events {
		args, err := insertArgs(event)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert event %s: %w", event.Meta().EventID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertArgs(event Event) ([]interface{}, error) {
	payload, err := Encode(event)
	if err != nil {
		return nil, err
	}

	var actorID, tenantID, decision string
	policyIDs := []string{}
	switch ev := event.(type) {
	case *DecisionEvent:
		if ev.Actor != nil {
			actorID = ev.Actor.ID
		}
		tenantID = ev.TenantID
		decision = ev.Decision
		policyIDs = ev.MatchedPolicies
	case *PolicyReloadEvent:
		if ev.Actor != nil {
			actorID = ev.Actor.ID
		}
		policyIDs = ev.PolicyIDs
	case *PresetRunEvent:
		if ev.Actor != nil {
			actorID = ev.Actor.ID
			tenantID = ev.Actor.TenantID
		}
		decision = ev.Decision
	case *SystemEvent:
	}

	h := event.Meta()
	return []interface{}{
		uuid.New(),
		h.EventID,
		string(event.Type()),
		h.Timestamp,
		nullString(h.RequestID),
		nullString(actorID),
		nullString(tenantID),
		nullString(decision),
		pq.Array(policyIDs),
		payload,
		nullString(h.Hash),
		nullString(h.PrevHash),
	}, nil
}

// Filter narrows a Query
type Filter struct {
	Types    []EventType
	TenantID string
	ActorID  string
	Since    time.Time
	Until    time.Time
	Limit    int
}

// Query returns matching events in insertion order
func (s *PostgresStore) Query(ctx context.Context, filter Filter) ([]Event, error) {
	query := `SELECT payload FROM abac_audit_events WHERE TRUE`
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		query += " AND event_type = ANY(" + arg(pq.Array(types)) + ")"
	}
	if filter.TenantID != "" {
		query += " AND tenant_id = " + arg(filter.TenantID)
	}
	if filter.ActorID != "" {
		query += " AND actor_id = " + arg(filter.ActorID)
	}
	if !filter.Since.IsZero() {
		query += " AND occurred_at >= " + arg(filter.Since)
	}
	if !filter.Until.IsZero() {
		query += " AND occurred_at <= " + arg(filter.Until)
	}
	query += " ORDER BY seq ASC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		event, err := Decode(payload)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return events, nil
}

// LastHash returns the hash of the most recently inserted event, or ""
func (s *PostgresStore) LastHash(ctx context.Context) (string, error) {
	var hash sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT hash FROM abac_audit_events ORDER BY seq DESC LIMIT 1`).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read last hash: %w", err)
	}
	return hash.String, nil
}

// VerifyIntegrity re-checks the whole stored chain and returns the number
// of events checked
func (s *PostgresStore) VerifyIntegrity(ctx context.Context) (int, error) {
	events, err := s.Query(ctx, Filter{})
	if err != nil {
		return 0, fmt.Errorf("failed to fetch events: %w", err)
	}
	return len(events), VerifyChain("", events)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// postgresWriter adapts the store to the Writer interface
type postgresWriter struct {
	store   *PostgresStore
	timeout time.Duration
}

// NewPostgresWriter creates a writer inserting each event into the store
func NewPostgresWriter(store *PostgresStore) Writer {
	return &postgresWriter{store: store, timeout: 5 * time.Second}
}

func (w *postgresWriter) Write(event Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	return w.store.Insert(ctx, event)
}

// Close leaves the shared *sql.DB open
func (w *postgresWriter) Close() error {
	return nil
}
