package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"clinicqueue/internal/events"
	"clinicqueue/internal/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

var ErrEpochNotFound = errors.New("epoch not found")

// Epoch is a finished run of token numbering kept for reporting.
type Epoch struct {
	ID          int64          `json:"id"`
	Reason      string         `json:"reason"`
	ClosedAt    time.Time      `json:"closedAt"`
	TokenCount  int            `json:"tokenCount"`
	ServedCount int            `json:"servedCount"`
	Tokens      []models.Token `json:"tokens,omitempty"`
}

// Archive stores closed epochs in sqlite so visited history outlives the
// in-memory queue, which is cleared at every epoch boundary.
type Archive struct {
	db     *sql.DB
	logger *zerolog.Logger
}

// NewArchive opens the database at path and runs migrations.
func NewArchive(path string, logger *zerolog.Logger) (*Archive, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	// sqlite allows one writer; a single connection keeps inserts serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Archive{db: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS epochs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			reason TEXT NOT NULL,
			closed_at DATETIME NOT NULL,
			token_count INTEGER NOT NULL,
			served_count INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS epoch_tokens (
			epoch_id INTEGER NOT NULL REFERENCES epochs(id) ON DELETE CASCADE,
			token_number INTEGER NOT NULL,
			name TEXT NOT NULL,
			phone TEXT NOT NULL,
			age INTEGER NOT NULL,
			department TEXT NOT NULL,
			booked_at DATETIME NOT NULL,
			visited BOOLEAN NOT NULL DEFAULT 0,
			PRIMARY KEY (epoch_id, token_number)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_epochs_closed_at ON epochs(closed_at)`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("migrate archive: %w", err)
		}
	}
	return nil
}

// Subscribe archives every closed epoch published on bus.
func (a *Archive) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EpochClosed, func(e events.Event) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		id, err := a.SaveEpoch(ctx, e.Reason, e.CreatedAt, e.Tokens)
		if err != nil {
			a.logger.Error().Err(err).Str("reason", e.Reason).Msg("Failed to archive epoch")
			return err
		}
		a.logger.Info().Int64("epoch", id).Int("tokens", len(e.Tokens)).Msg("Epoch archived")
		return nil
	})
}

// SaveEpoch writes an epoch and its tokens in one transaction.
func (a *Archive) SaveEpoch(ctx context.Context, reason string, closedAt time.Time, tokens []models.Token) (int64, error) {
	served := 0
	for i := range tokens {
		if tokens[i].Visited {
			served++
		}
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO epochs (reason, closed_at, token_count, served_count) VALUES (?, ?, ?, ?)`,
		reason, closedAt.UTC(), len(tokens), served)
	if err != nil {
		return 0, fmt.Errorf("insert epoch: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO epoch_tokens
		(epoch_id, token_number, name, phone, age, department, booked_at, visited)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for i := range tokens {
		t := tokens[i]
		if _, err := stmt.ExecContext(ctx, id, t.TokenNumber, t.Name, t.Phone, t.Age, t.Department, t.BookedAt.UTC(), t.Visited); err != nil {
			return 0, fmt.Errorf("insert epoch token %d: %w", t.TokenNumber, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// Recent returns the newest epochs first, without their tokens.
func (a *Archive) Recent(ctx context.Context, limit int) ([]Epoch, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := a.db.QueryContext(ctx,
		`SELECT id, reason, closed_at, token_count, served_count FROM epochs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	epochs := make([]Epoch, 0)
	for rows.Next() {
		var e Epoch
		if err := rows.Scan(&e.ID, &e.Reason, &e.ClosedAt, &e.TokenCount, &e.ServedCount); err != nil {
			return nil, err
		}
		epochs = append(epochs, e)
	}
	return epochs, rows.Err()
}

// Epoch returns one archived epoch without its tokens.
func (a *Archive) Epoch(ctx context.Context, id int64) (*Epoch, error) {
	var e Epoch
	err := a.db.QueryRowContext(ctx,
		`SELECT id, reason, closed_at, token_count, served_count FROM epochs WHERE id = ?`, id).
		Scan(&e.ID, &e.Reason, &e.ClosedAt, &e.TokenCount, &e.ServedCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEpochNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Tokens returns the archived tokens of one epoch in booking order.
func (a *Archive) Tokens(ctx context.Context, epochID int64) ([]models.Token, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT token_number, name, phone, age, department, booked_at, visited
		 FROM epoch_tokens WHERE epoch_id = ? ORDER BY token_number`, epochID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tokens := make([]models.Token, 0)
	for rows.Next() {
		var t models.Token
		if err := rows.Scan(&t.TokenNumber, &t.Name, &t.Phone, &t.Age, &t.Department, &t.BookedAt, &t.Visited); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// PingContext checks the database for readiness checks.
func (a *Archive) PingContext(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

func (a *Archive) Close() error {
	return a.db.Close()
}
