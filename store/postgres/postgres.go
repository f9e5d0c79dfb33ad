// Package postgres implements the core storage contracts on PostgreSQL via
// pgx. Events live in an append-only table; sequence numbers are assigned
// under a per-conversation advisory lock so the log stays totally ordered
// even with concurrent writers.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/convoq/convoq/core"
)

// Schema is the DDL the store expects. Applied by Migrate; kept here so
// deployments that manage migrations externally can copy it.
const Schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	turn_mode  TEXT NOT NULL DEFAULT 'mediated',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS conversation_events (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	type            TEXT NOT NULL,
	payload         JSONB,
	created_at      TIMESTAMPTZ NOT NULL,
	sequence        BIGINT NOT NULL,
	UNIQUE (conversation_id, sequence)
);

CREATE INDEX IF NOT EXISTS conversation_events_conv_seq
	ON conversation_events (conversation_id, sequence);

CREATE TABLE IF NOT EXISTS participants (
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	id              TEXT NOT NULL,
	display_name    TEXT NOT NULL DEFAULT '',
	role            TEXT NOT NULL,
	joined_at       TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (conversation_id, id)
);

CREATE TABLE IF NOT EXISTS turn_states (
	conversation_id TEXT PRIMARY KEY REFERENCES conversations(id),
	next_speaker_id TEXT NOT NULL,
	next_role       TEXT NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store implements core.ConversationStore and core.TurnStateStore on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// Connect creates a pgx pool from a DSN, verifies it with a ping, and
// returns a Store over it.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 4
	}
	if cfg.MaxConnIdleTime == 0 {
		cfg.MaxConnIdleTime = 5 * time.Minute
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return NewStore(pool), nil
}

// NewStore wraps an existing pool.
func NewStore(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

// Migrate applies the schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Close releases the underlying pool.
func (s *Store) Close() { s.pool.Close() }

// CreateConversation implements core.ConversationStore.
func (s *Store) CreateConversation(ctx context.Context, conversationID string, settings core.Settings) error {
	mode := settings.TurnMode
	if !mode.Valid() {
		mode = core.DefaultMode
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO conversations (id, turn_mode) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		conversationID, string(mode))
	if err != nil {
		return fmt.Errorf("postgres: insert conversation: %w", err)
	}
	seat := core.NewAssistantSeat()
	_, err = tx.Exec(ctx,
		`INSERT INTO participants (conversation_id, id, display_name, role, joined_at)
		 VALUES ($1, $2, $3, $4, $5) ON CONFLICT DO NOTHING`,
		conversationID, seat.ID, seat.DisplayName, string(seat.Role), seat.JoinedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert assistant seat: %w", err)
	}
	return tx.Commit(ctx)
}

// AppendEvent implements core.EventStore. A transaction-scoped advisory lock
// on the conversation id serializes appends so sequence assignment is safe
// under concurrency.
func (s *Store) AppendEvent(ctx context.Context, conversationID string, typ core.EventType, payload core.Payload) (core.ConversationEvent, error) {
	raw, err := core.MarshalPayload(payload)
	if err != nil {
		return core.ConversationEvent{}, fmt.Errorf("postgres: encode payload: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return core.ConversationEvent{}, fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, conversationID); err != nil {
		return core.ConversationEvent{}, fmt.Errorf("postgres: advisory lock: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1)`, conversationID).Scan(&exists); err != nil {
		return core.ConversationEvent{}, fmt.Errorf("postgres: conversation lookup: %w", err)
	}
	if !exists {
		return core.ConversationEvent{}, core.ErrConversationNotFound
	}

	ev := core.ConversationEvent{
		ID:             core.NewID(),
		ConversationID: conversationID,
		Type:           typ,
		Payload:        payload,
		CreatedAt:      time.Now().UTC(),
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO conversation_events (id, conversation_id, type, payload, created_at, sequence)
		 VALUES ($1, $2, $3, $4, $5,
		         (SELECT COALESCE(MAX(sequence), 0) + 1 FROM conversation_events WHERE conversation_id = $2))
		 RETURNING sequence`,
		ev.ID, conversationID, string(typ), raw, ev.CreatedAt).Scan(&ev.Sequence)
	if err != nil {
		return core.ConversationEvent{}, fmt.Errorf("postgres: insert event: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return core.ConversationEvent{}, fmt.Errorf("postgres: commit: %w", err)
	}
	return ev, nil
}

// ListEvents implements core.EventStore.
func (s *Store) ListEvents(ctx context.Context, conversationID string) ([]core.ConversationEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, type, payload, created_at, sequence
		 FROM conversation_events WHERE conversation_id = $1 ORDER BY sequence ASC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var events []core.ConversationEvent
	for rows.Next() {
		var (
			ev  core.ConversationEvent
			typ string
			raw []byte
		)
		if err := rows.Scan(&ev.ID, &typ, &raw, &ev.CreatedAt, &ev.Sequence); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		ev.ConversationID = conversationID
		ev.Type = core.EventType(typ)
		if ev.Payload, err = core.UnmarshalPayload(raw); err != nil {
			return nil, fmt.Errorf("postgres: decode payload: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// AddParticipant implements core.ParticipantStore; re-joins are no-ops.
func (s *Store) AddParticipant(ctx context.Context, conversationID string, p core.Participant) error {
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO participants (conversation_id, id, display_name, role, joined_at)
		 VALUES ($1, $2, $3, $4, $5) ON CONFLICT DO NOTHING`,
		conversationID, p.ID, p.DisplayName, string(p.Role), p.JoinedAt)
	if err != nil {
		return fmt.Errorf("postgres: add participant: %w", err)
	}
	return nil
}

// ListParticipants implements core.ParticipantStore in stable join order.
func (s *Store) ListParticipants(ctx context.Context, conversationID string) (core.Roster, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, display_name, role, joined_at
		 FROM participants WHERE conversation_id = $1 ORDER BY joined_at ASC, id ASC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list participants: %w", err)
	}
	defer rows.Close()

	var roster core.Roster
	for rows.Next() {
		var (
			p    core.Participant
			role string
		)
		if err := rows.Scan(&p.ID, &p.DisplayName, &role, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan participant: %w", err)
		}
		p.Role = core.Role(role)
		roster = append(roster, p)
	}
	return roster, rows.Err()
}

// GetSettings implements core.SettingsStore.
func (s *Store) GetSettings(ctx context.Context, conversationID string) (core.Settings, error) {
	var mode string
	err := s.pool.QueryRow(ctx,
		`SELECT turn_mode FROM conversations WHERE id = $1`, conversationID).Scan(&mode)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Settings{}, core.ErrConversationNotFound
	}
	if err != nil {
		return core.Settings{}, fmt.Errorf("postgres: get settings: %w", err)
	}
	return core.Settings{TurnMode: core.TurnPolicyMode(mode)}, nil
}

// UpdateSettings implements core.SettingsStore.
func (s *Store) UpdateSettings(ctx context.Context, conversationID string, settings core.Settings) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET turn_mode = $2 WHERE id = $1`,
		conversationID, string(settings.TurnMode))
	if err != nil {
		return fmt.Errorf("postgres: update settings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrConversationNotFound
	}
	return nil
}

// SaveTurnState implements core.TurnStateStore.
func (s *Store) SaveTurnState(ctx context.Context, conversationID string, state core.TurnState) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO turn_states (conversation_id, next_speaker_id, next_role, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (conversation_id)
		 DO UPDATE SET next_speaker_id = $2, next_role = $3, updated_at = now()`,
		conversationID, state.NextSpeakerID, string(state.NextRole))
	if err != nil {
		return fmt.Errorf("postgres: save turn state: %w", err)
	}
	return nil
}

// LoadTurnState implements core.TurnStateStore.
func (s *Store) LoadTurnState(ctx context.Context, conversationID string) (core.TurnState, bool, error) {
	var (
		state core.TurnState
		role  string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT next_speaker_id, next_role FROM turn_states WHERE conversation_id = $1`,
		conversationID).Scan(&state.NextSpeakerID, &role)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.TurnState{}, false, nil
	}
	if err != nil {
		return core.TurnState{}, false, fmt.Errorf("postgres: load turn state: %w", err)
	}
	state.NextRole = core.Role(role)
	return state, true, nil
}

// Interface compliance (compile-time assertions).
var (
	_ core.ConversationStore = (*Store)(nil)
	_ core.TurnStateStore    = (*Store)(nil)
)
