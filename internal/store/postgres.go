// Package store provides storage backends for DealerFlow.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/motorline/dealerflow/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")
	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// GetConversationState retrieves the state row, or (nil, nil) when absent.
func (s *PostgresStore) GetConversationState(conversationID, workflowID string) (*models.ConversationState, error) {
	query := `SELECT conversation_id, workflow_id, current_step, variables, last_step_reason, completed, created_at, updated_at
			  FROM conversation_state WHERE conversation_id = $1 AND workflow_id = $2`

	var state models.ConversationState
	var variablesJSON, reason sql.NullString

	err := s.db.QueryRow(query, conversationID, workflowID).Scan(
		&state.ConversationID, &state.WorkflowID, &state.CurrentStep,
		&variablesJSON, &reason, &state.Completed, &state.CreatedAt, &state.UpdatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetConversationState not found", "conversationID", conversationID, "workflowID", workflowID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversationState failed", "error", err, "conversationID", conversationID, "workflowID", workflowID)
		return nil, fmt.Errorf("failed to query conversation state: %w", err)
	}

	state.LastStepReason = reason.String
	state.Variables = make(map[string]string)
	if variablesJSON.Valid && variablesJSON.String != "" {
		if err := json.Unmarshal([]byte(variablesJSON.String), &state.Variables); err != nil {
			slog.Error("PostgresStore GetConversationState variables unmarshal failed", "error", err, "conversationID", conversationID)
			return nil, fmt.Errorf("failed to decode variables: %w", err)
		}
	}
	return &state, nil
}

// SaveConversationState upserts the full state row (last write wins).
func (s *PostgresStore) SaveConversationState(state models.ConversationState) error {
	variablesJSON, err := json.Marshal(state.Variables)
	if err != nil {
		slog.Error("PostgresStore SaveConversationState variables marshal failed", "error", err, "conversationID", state.ConversationID)
		return err
	}

	query := `
		INSERT INTO conversation_state
			(conversation_id, workflow_id, current_step, variables, last_step_reason, completed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (conversation_id, workflow_id) DO UPDATE SET
			current_step = EXCLUDED.current_step,
			variables = EXCLUDED.variables,
			last_step_reason = EXCLUDED.last_step_reason,
			completed = EXCLUDED.completed,
			updated_at = EXCLUDED.updated_at`
	_, err = s.db.Exec(query, state.ConversationID, state.WorkflowID, state.CurrentStep,
		string(variablesJSON), state.LastStepReason, state.Completed, state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveConversationState failed", "error", err, "conversationID", state.ConversationID, "workflowID", state.WorkflowID)
		return fmt.Errorf("failed to save conversation state: %w", err)
	}
	return nil
}

// LogMessage inserts an audit-log row.
func (s *PostgresStore) LogMessage(m models.MessageLog) error {
	_, err := s.db.Exec(`INSERT INTO messages (id, conversation_id, direction, body, time) VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.ConversationID, m.Direction, m.Body, m.Time)
	if err != nil {
		slog.Error("PostgresStore LogMessage failed", "error", err, "conversationID", m.ConversationID)
		return fmt.Errorf("failed to insert message log: %w", err)
	}
	return nil
}

// ListMessages returns a conversation's audit log ordered by time.
func (s *PostgresStore) ListMessages(conversationID string) ([]models.MessageLog, error) {
	rows, err := s.db.Query(`SELECT id, conversation_id, direction, body, time FROM messages WHERE conversation_id = $1 ORDER BY time`, conversationID)
	if err != nil {
		slog.Error("PostgresStore ListMessages query failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []models.MessageLog
	for rows.Next() {
		var m models.MessageLog
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Direction, &m.Body, &m.Time); err != nil {
			slog.Error("PostgresStore ListMessages scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	return out, nil
}

// AddVerifiedPrice records a safe-to-echo amount for a vehicle model.
func (s *PostgresStore) AddVerifiedPrice(p models.VerifiedPrice) error {
	_, err := s.db.Exec(`INSERT INTO verified_prices (vehicle_model, amount) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		p.VehicleModel, p.Amount)
	if err != nil {
		slog.Error("PostgresStore AddVerifiedPrice failed", "error", err, "vehicleModel", p.VehicleModel)
		return fmt.Errorf("failed to insert verified price: %w", err)
	}
	return nil
}

// GetVerifiedPrices returns the verified amounts for a vehicle model.
func (s *PostgresStore) GetVerifiedPrices(vehicleModel string) ([]string, error) {
	rows, err := s.db.Query(`SELECT amount FROM verified_prices WHERE vehicle_model = $1`, vehicleModel)
	if err != nil {
		slog.Error("PostgresStore GetVerifiedPrices query failed", "error", err, "vehicleModel", vehicleModel)
		return nil, fmt.Errorf("failed to query verified prices: %w", err)
	}
	defer rows.Close()

	var amounts []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("failed to scan verified price: %w", err)
		}
		amounts = append(amounts, a)
	}
	return amounts, rows.Err()
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
