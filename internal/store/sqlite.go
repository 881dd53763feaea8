// Package store provides storage backends for DealerFlow.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/motorline/dealerflow/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore implements Store on a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given options. The DSN
// is a file path; its directory is created if missing.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// GetConversationState retrieves the state row, or (nil, nil) when absent.
func (s *SQLiteStore) GetConversationState(conversationID, workflowID string) (*models.ConversationState, error) {
	query := `SELECT conversation_id, workflow_id, current_step, variables, last_step_reason, completed, created_at, updated_at
			  FROM conversation_state WHERE conversation_id = ? AND workflow_id = ?`

	var state models.ConversationState
	var variablesJSON, reason sql.NullString

	err := s.db.QueryRow(query, conversationID, workflowID).Scan(
		&state.ConversationID, &state.WorkflowID, &state.CurrentStep,
		&variablesJSON, &reason, &state.Completed, &state.CreatedAt, &state.UpdatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetConversationState not found", "conversationID", conversationID, "workflowID", workflowID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConversationState failed", "error", err, "conversationID", conversationID, "workflowID", workflowID)
		return nil, fmt.Errorf("failed to query conversation state: %w", err)
	}

	state.LastStepReason = reason.String
	state.Variables = make(map[string]string)
	if variablesJSON.Valid && variablesJSON.String != "" {
		if err := json.Unmarshal([]byte(variablesJSON.String), &state.Variables); err != nil {
			slog.Error("SQLiteStore GetConversationState variables unmarshal failed", "error", err, "conversationID", conversationID)
			return nil, fmt.Errorf("failed to decode variables: %w", err)
		}
	}

	slog.Debug("SQLiteStore GetConversationState found", "conversationID", conversationID, "workflowID", workflowID, "currentStep", state.CurrentStep)
	return &state, nil
}

// SaveConversationState upserts the full state row (last write wins).
func (s *SQLiteStore) SaveConversationState(state models.ConversationState) error {
	variablesJSON, err := json.Marshal(state.Variables)
	if err != nil {
		slog.Error("SQLiteStore SaveConversationState variables marshal failed", "error", err, "conversationID", state.ConversationID)
		return err
	}

	query := `
		INSERT OR REPLACE INTO conversation_state
			(conversation_id, workflow_id, current_step, variables, last_step_reason, completed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.Exec(query, state.ConversationID, state.WorkflowID, state.CurrentStep,
		string(variablesJSON), state.LastStepReason, state.Completed, state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveConversationState failed", "error", err, "conversationID", state.ConversationID, "workflowID", state.WorkflowID)
		return fmt.Errorf("failed to save conversation state: %w", err)
	}
	slog.Debug("SQLiteStore SaveConversationState succeeded", "conversationID", state.ConversationID, "workflowID", state.WorkflowID, "nextStep", state.CurrentStep)
	return nil
}

// LogMessage inserts an audit-log row.
func (s *SQLiteStore) LogMessage(m models.MessageLog) error {
	_, err := s.db.Exec(`INSERT INTO messages (id, conversation_id, direction, body, time) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Direction, m.Body, m.Time)
	if err != nil {
		slog.Error("SQLiteStore LogMessage failed", "error", err, "conversationID", m.ConversationID)
		return fmt.Errorf("failed to insert message log: %w", err)
	}
	return nil
}

// ListMessages returns a conversation's audit log ordered by time.
func (s *SQLiteStore) ListMessages(conversationID string) ([]models.MessageLog, error) {
	rows, err := s.db.Query(`SELECT id, conversation_id, direction, body, time FROM messages WHERE conversation_id = ? ORDER BY time`, conversationID)
	if err != nil {
		slog.Error("SQLiteStore ListMessages query failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []models.MessageLog
	for rows.Next() {
		var m models.MessageLog
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Direction, &m.Body, &m.Time); err != nil {
			slog.Error("SQLiteStore ListMessages scan failed", "error", err)
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
func (s *SQLiteStore) AddVerifiedPrice(p models.VerifiedPrice) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO verified_prices (vehicle_model, amount) VALUES (?, ?)`, p.VehicleModel, p.Amount)
	if err != nil {
		slog.Error("SQLiteStore AddVerifiedPrice failed", "error", err, "vehicleModel", p.VehicleModel)
		return fmt.Errorf("failed to insert verified price: %w", err)
	}
	return nil
}

// GetVerifiedPrices returns the verified amounts for a vehicle model.
func (s *SQLiteStore) GetVerifiedPrices(vehicleModel string) ([]string, error) {
	rows, err := s.db.Query(`SELECT amount FROM verified_prices WHERE vehicle_model = ?`, vehicleModel)
	if err != nil {
		slog.Error("SQLiteStore GetVerifiedPrices query failed", "error", err, "vehicleModel", vehicleModel)
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

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
