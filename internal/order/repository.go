package order

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

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
CREATE TABLE IF NOT EXISTS orders(
  id           TEXT PRIMARY KEY,
  customer_id  TEXT NOT NULL,
  store_id     TEXT NOT NULL,
  owner_id     TEXT NOT NULL,
  rider_id     TEXT NOT NULL DEFAULT '',
  status       TEXT NOT NULL,
  total_price  INTEGER NOT NULL DEFAULT 0,
  created_unix INTEGER NOT NULL,
  updated_unix INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS order_items(
  id           INTEGER PRIMARY KEY AUTOINCREMENT,
  order_id     TEXT NOT NULL,
  product_id   INTEGER NOT NULL,
  product_name TEXT NOT NULL,
  qty          INTEGER NOT NULL,
  unit_price   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id);
CREATE INDEX IF NOT EXISTS idx_orders_customer ON orders(customer_id);
`
	_, err := r.DB.ExecContext(ctx, schema)
	return err
}

func (r *Repository) Close() error { return r.DB.Close() }

// Create stores the order and its item snapshot in one transaction.
func (r *Repository) Create(ctx context.Context, o *Order) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
INSERT INTO orders(id, customer_id, store_id, owner_id, rider_id, status, total_price, created_unix, updated_unix)
VALUES(?,?,?,?,?,?,?,?,?)`,
		o.ID, o.CustomerID, o.StoreID, o.OwnerID, o.RiderID, string(o.Status),
		o.TotalPrice, o.CreatedUnix, o.UpdatedUnix)
	if err != nil {
		return err
	}
	for _, it := range o.Items {
		_, err = tx.ExecContext(ctx, `
INSERT INTO order_items(order_id, product_id, product_name, qty, unit_price)
VALUES(?,?,?,?,?)`,
			o.ID, it.ProductID, it.ProductName, it.Quantity, it.UnitPrice)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Repository) Get(ctx context.Context, id string) (*Order, error) {
	var o Order
	var status string
	err := r.DB.QueryRowContext(ctx, `
SELECT id, customer_id, store_id, owner_id, rider_id, status, total_price, created_unix, updated_unix
FROM orders WHERE id=?`, id).
		Scan(&o.ID, &o.CustomerID, &o.StoreID, &o.OwnerID, &o.RiderID, &status,
			&o.TotalPrice, &o.CreatedUnix, &o.UpdatedUnix)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.Status = Status(status)

	rows, err := r.DB.QueryContext(ctx, `
SELECT product_id, product_name, qty, unit_price FROM order_items WHERE order_id=? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.ProductName, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	return &o, rows.Err()
}

// UpdateStatus persists the advanced state, and the rider when one was
// assigned along the way.
func (r *Repository) UpdateStatus(ctx context.Context, o *Order) error {
	res, err := r.DB.ExecContext(ctx, `
UPDATE orders SET status=?, rider_id=?, updated_unix=? WHERE id=?`,
		string(o.Status), o.RiderID, o.UpdatedUnix, o.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
