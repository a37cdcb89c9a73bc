package accessory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Record is a persisted endpoint. Records outlive the process so that an
// accessory keeps its endpoint IDs across restarts.
type Record struct {
	ID          string    `json:"id"`
	AccessoryID string    `json:"accessory_id"`
	Service     string    `json:"service"`
	SubID       string    `json:"sub_id"`
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Repository defines the interface for endpoint persistence operations.
type Repository interface {
	List(ctx context.Context) ([]Record, error)
	Get(ctx context.Context, id string) (*Record, error)
	Create(ctx context.Context, rec *Record) error
	UpdateName(ctx context.Context, id, name string) error
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed endpoint repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// List returns all endpoints ordered by accessory, service and sub ID.
func (r *SQLiteRepository) List(ctx context.Context) ([]Record, error) {
	const query = `SELECT id, accessory_id, service, sub_id, name, created_at, updated_at
		FROM endpoints ORDER BY accessory_id, service, sub_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying endpoints: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning endpoint row: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating endpoint rows: %w", err)
	}
	return records, nil
}

// Get returns a single endpoint by ID.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Record, error) {
	const query = `SELECT id, accessory_id, service, sub_id, name, created_at, updated_at
		FROM endpoints WHERE id = ?`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEndpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting endpoint %s: %w", id, err)
	}
	return rec, nil
}

// Create inserts a new endpoint. Timestamps are set when zero.
func (r *SQLiteRepository) Create(ctx context.Context, rec *Record) error {
	if rec.ID == "" || rec.AccessoryID == "" || rec.Service == "" {
		return fmt.Errorf("%w: id, accessory_id and service are required", ErrInvalidEndpoint)
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}

	const query = `INSERT INTO endpoints (id, accessory_id, service, sub_id, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.AccessoryID, rec.Service, rec.SubID, rec.Name,
		rec.CreatedAt.Format(time.RFC3339Nano), rec.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("inserting endpoint %s: %w", rec.ID, err)
	}
	return nil
}

// UpdateName renames an endpoint.
func (r *SQLiteRepository) UpdateName(ctx context.Context, id, name string) error {
	const query = `UPDATE endpoints SET name = ?, updated_at = ? WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query, name, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("updating endpoint %s: %w", id, err)
	}
	return expectOneRow(result, id)
}

// Delete removes an endpoint.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM endpoints WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting endpoint %s: %w", id, err)
	}
	return expectOneRow(result, id)
}

func expectOneRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected for %s: %w", id, err)
	}
	if n == 0 {
		return ErrEndpointNotFound
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var rec Record
	var created, updated string
	if err := s.Scan(&rec.ID, &rec.AccessoryID, &rec.Service, &rec.SubID, &rec.Name, &created, &updated); err != nil {
		return nil, err
	}
	rec.CreatedAt = parseTime(created)
	rec.UpdatedAt = parseTime(updated)
	return &rec, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
