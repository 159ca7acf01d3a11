// Package postgres provides a durable bus.HistoryStore backed by PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hupe1980/agentcoord/core"
)

// Schema creates the message log table. It is applied by Migrate.
const Schema = `
CREATE TABLE IF NOT EXISTS coord_messages (
	seq               BIGSERIAL PRIMARY KEY,
	id                TEXT NOT NULL UNIQUE,
	type              TEXT NOT NULL,
	sender            TEXT NOT NULL,
	recipient_kind    TEXT NOT NULL,
	recipient_agent   TEXT NOT NULL DEFAULT '',
	recipient_role    TEXT NOT NULL DEFAULT '',
	payload           JSONB,
	requires_response BOOLEAN NOT NULL DEFAULT FALSE,
	correlation_id    TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL
)`

// HistoryStore appends bus messages to the coord_messages table. Payloads are
// stored as JSON, so Recent returns them in their decoded generic form
// (maps, slices, strings, float64).
type HistoryStore struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *HistoryStore {
	return &HistoryStore{pool: pool}
}

// Open connects to dsn, applies the schema and returns the store.
func Open(ctx context.Context, dsn string) (*HistoryStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect history database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}
	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the table if needed.
func (s *HistoryStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate history schema: %w", err)
	}
	return nil
}

// Append implements bus.HistoryStore.
func (s *HistoryStore) Append(ctx context.Context, msg core.Message) error {
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		return fmt.Errorf("encode payload of %s: %w", msg.ID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO coord_messages (id, type, sender, recipient_kind, recipient_agent, recipient_role, payload, requires_response, correlation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, msg.ID, string(msg.Type), msg.Sender, string(msg.Recipient.Kind), msg.Recipient.AgentID,
		string(msg.Recipient.Role), payload, msg.RequiresResponse, msg.CorrelationID, msg.Timestamp)
	return err
}

// Recent implements bus.HistoryStore.
func (s *HistoryStore) Recent(ctx context.Context, limit int) ([]core.Message, error) {
	query := `
		SELECT id, type, sender, recipient_kind, recipient_agent, recipient_role, payload, requires_response, correlation_id, created_at
		FROM coord_messages ORDER BY seq DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []core.Message
	for rows.Next() {
		var (
			m                        core.Message
			typ, kind, agentID, role string
			payload                  []byte
			createdAt                time.Time
		)
		if err := rows.Scan(&m.ID, &typ, &m.Sender, &kind, &agentID, &role, &payload, &m.RequiresResponse, &m.CorrelationID, &createdAt); err != nil {
			return nil, err
		}
		m.Type = core.MessageType(typ)
		m.Recipient = core.Recipient{Kind: core.RecipientKind(kind), AgentID: agentID, Role: core.Role(role)}
		m.Timestamp = createdAt.UTC()
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &m.Payload); err != nil {
				return nil, fmt.Errorf("decode payload of %s: %w", m.ID, err)
			}
		}
		list = append(list, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(list)
	return list, nil
}

// Len implements bus.HistoryStore.
func (s *HistoryStore) Len(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM coord_messages").Scan(&n)
	return n, err
}

// Truncate removes every entry. Intended for tests and maintenance.
func (s *HistoryStore) Truncate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "TRUNCATE coord_messages")
	return err
}

// Close releases the pool.
func (s *HistoryStore) Close() {
	s.pool.Close()
}
