package stock

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

// Repository persists ledger rows in sqlite. Update is conditional on the
// version column; writers that lose the race get ErrVersionConflict and
// retry the whole read-modify-write.
type Repository struct {
	DB *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxIdleTime(2 * time.Minute)
	db.SetMaxOpenConns(1)

	r := &Repository{DB: db}
	if err := r.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repository) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS stock(
  product_id INTEGER PRIMARY KEY,
  version    INTEGER NOT NULL DEFAULT 0,
  total_qty  INTEGER NOT NULL DEFAULT 0,
  held_qty   INTEGER NOT NULL DEFAULT 0,
  updated_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
);
CREATE INDEX IF NOT EXISTS idx_stock_updated ON stock(updated_at);
`
	_, err := r.DB.ExecContext(ctx, schema)
	return err
}

func (r *Repository) Close() error { return r.DB.Close() }

// Create inserts a fresh ledger row at version 0, as part of product
// onboarding.
func (r *Repository) Create(ctx context.Context, productID int64, totalQty int64) error {
	_, err := r.DB.ExecContext(ctx, `
INSERT INTO stock(product_id, version, total_qty, held_qty, updated_at)
VALUES(?, 0, ?, 0, strftime('%s','now'))
ON CONFLICT(product_id) DO NOTHING`, productID, totalQty)
	return err
}

// Seed inserts a few demo ledger rows, for local runs.
func (r *Repository) Seed(ctx context.Context) error {
	rows := map[int64]int64{1: 10, 2: 5, 3: 0, 4: 20, 5: 1}
	for id, qty := range rows {
		if err := r.Create(ctx, id, qty); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, productID int64) (*Stock, error) {
	var s Stock
	err := r.DB.QueryRowContext(ctx, `
SELECT product_id, version, total_qty, held_qty FROM stock WHERE product_id=?`,
		productID).Scan(&s.ProductID, &s.Version, &s.TotalQty, &s.HeldQty)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Update writes s conditionally on the version it was read at. The version
// column advances by one on success.
func (r *Repository) Update(ctx context.Context, s *Stock) error {
	res, err := r.DB.ExecContext(ctx, `
UPDATE stock
SET version=version+1, total_qty=?, held_qty=?, updated_at=strftime('%s','now')
WHERE product_id=? AND version=?`,
		s.TotalQty, s.HeldQty, s.ProductID, s.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	s.Version++
	return nil
}
