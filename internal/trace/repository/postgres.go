package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"product-trace/internal/trace"
)

const healthCheckTimeout = 2 * time.Second

// PostgresRepository is the ledger store: a products table plus an
// append-only status_events table keyed by (product_id, seq). Product ids
// come from the table's sequence, so they are globally serialized, strictly
// increasing and never reused. A create whose transaction rolls back after
// allocation leaves a hole in the sequence; that is a known limitation of
// partial failure, not an issuer defect.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts the product and its first status event in one transaction,
// so a product with zero events is never observable.
func (r *PostgresRepository) Create(ctx context.Context, name, manufacturer, imageRef, status, details string) (trace.Product, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return trace.Product{}, fmt.Errorf("begin create: %w", err)
	}
	defer tx.Rollback()

	var p trace.Product
	err = tx.QueryRowContext(ctx, `
		INSERT INTO products (name, manufacturer, image_ref)
		VALUES ($1, $2, $3)
		RETURNING id, name, manufacturer, image_ref, created_at
	`, name, manufacturer, imageRef).Scan(&p.ID, &p.Name, &p.Manufacturer, &p.ImageRef, &p.CreatedAt)
	if err != nil {
		return trace.Product{}, fmt.Errorf("insert product: %w", err)
	}

	first := trace.StatusEvent{
		ProductID: p.ID,
		Seq:       1,
		Status:    status,
		Details:   details,
		Timestamp: p.CreatedAt,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO status_events (product_id, seq, status, details, location, recorded_at)
		VALUES ($1, $2, $3, $4, NULL, $5)
	`, first.ProductID, first.Seq, first.Status, first.Details, first.Timestamp)
	if err != nil {
		return trace.Product{}, fmt.Errorf("insert initial event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return trace.Product{}, fmt.Errorf("commit create: %w", err)
	}

	p.History = []trace.StatusEvent{first}
	return p, nil
}

// AppendEvent records a new status event. The product row is locked for the
// duration of the transaction, serializing appends per product; seq continues
// the per-product sequence and recorded_at never decreases.
func (r *PostgresRepository) AppendEvent(ctx context.Context, productID int64, status, details, location string) (trace.StatusEvent, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return trace.StatusEvent{}, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	var locked int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM products WHERE id = $1 FOR UPDATE`, productID).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return trace.StatusEvent{}, trace.ErrNotFound
	}
	if err != nil {
		return trace.StatusEvent{}, fmt.Errorf("lock product %d: %w", productID, err)
	}

	event := trace.StatusEvent{
		ProductID: productID,
		Status:    status,
		Details:   details,
		Location:  location,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO status_events (product_id, seq, status, details, location, recorded_at)
		SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, NULLIF($4, ''),
		       GREATEST(now(), COALESCE(MAX(recorded_at), now()))
		FROM status_events
		WHERE product_id = $1
		RETURNING seq, recorded_at
	`, productID, status, details, location).Scan(&event.Seq, &event.Timestamp)
	if err != nil {
		return trace.StatusEvent{}, fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return trace.StatusEvent{}, fmt.Errorf("commit append: %w", err)
	}

	return event, nil
}

// GetByID returns the product with its full history in append order.
func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (trace.Product, error) {
	var p trace.Product
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, manufacturer, image_ref, created_at
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Manufacturer, &p.ImageRef, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return trace.Product{}, trace.ErrNotFound
	}
	if err != nil {
		return trace.Product{}, fmt.Errorf("query product %d: %w", id, err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, seq, status, details, COALESCE(location, ''), recorded_at
		FROM status_events
		WHERE product_id = $1
		ORDER BY seq
	`, id)
	if err != nil {
		return trace.Product{}, fmt.Errorf("query events for %d: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var e trace.StatusEvent
		if err := rows.Scan(&e.ProductID, &e.Seq, &e.Status, &e.Details, &e.Location, &e.Timestamp); err != nil {
			return trace.Product{}, fmt.Errorf("scan event: %w", err)
		}
		p.History = append(p.History, e)
	}
	if err := rows.Err(); err != nil {
		return trace.Product{}, fmt.Errorf("iterate events: %w", err)
	}

	return p, nil
}

// List returns every product joined with its latest event. The full set is
// returned on every call; the catalog is small by design and pagination is
// deliberately absent.
func (r *PostgresRepository) List(ctx context.Context) ([]trace.Product, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.manufacturer, p.image_ref, p.created_at,
		       e.seq, e.status, e.details, COALESCE(e.location, ''), e.recorded_at
		FROM products p
		JOIN LATERAL (
			SELECT seq, status, details, location, recorded_at
			FROM status_events
			WHERE product_id = p.id
			ORDER BY seq DESC
			LIMIT 1
		) e ON true
		ORDER BY p.id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	list := make([]trace.Product, 0)
	for rows.Next() {
		var p trace.Product
		var e trace.StatusEvent
		if err := rows.Scan(
			&p.ID, &p.Name, &p.Manufacturer, &p.ImageRef, &p.CreatedAt,
			&e.Seq, &e.Status, &e.Details, &e.Location, &e.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		e.ProductID = p.ID
		p.History = []trace.StatusEvent{e}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}

	return list, nil
}

// Delete removes a product and its events. The id sequence is not reset, so
// deleted ids are never reissued.
func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM status_events WHERE product_id = $1`, id); err != nil {
		return fmt.Errorf("delete events for %d: %w", id, err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return trace.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()
	return r.db.PingContext(ctx)
}
