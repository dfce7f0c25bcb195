package notification

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the durable notification log.
type Store struct {
	DB *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxIdleTime(2 * time.Minute)
	db.SetMaxOpenConns(1)

	s := &Store{DB: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS notifications(
  id           TEXT PRIMARY KEY,
  recipient_id TEXT NOT NULL,
  type         TEXT NOT NULL,
  message      TEXT NOT NULL,
  data         TEXT NOT NULL DEFAULT '',
  is_read      INTEGER NOT NULL DEFAULT 0,
  created_unix INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_id, created_unix);
`
	_, err := s.DB.ExecContext(ctx, schema)
	return err
}

func (s *Store) Close() error { return s.DB.Close() }

func (s *Store) Insert(ctx context.Context, n *Notification) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO notifications(id, recipient_id, type, message, data, is_read, created_unix)
VALUES(?,?,?,?,?,?,?)`,
		n.ID, n.RecipientID, string(n.Type), n.Message, string(n.Data),
		boolToInt(n.IsRead), n.CreatedAt.Unix())
	return err
}

func (s *Store) Get(ctx context.Context, id string) (*Notification, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, recipient_id, type, message, data, is_read, created_unix
FROM notifications WHERE id=?`, id)
	return scanNotification(row)
}

// ListByRecipient returns the newest notifications of a profile.
func (s *Store) ListByRecipient(ctx context.Context, recipientID string, limit int) ([]*Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, recipient_id, type, message, data, is_read, created_unix
FROM notifications WHERE recipient_id=? ORDER BY created_unix DESC, id LIMIT ?`,
		recipientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) UnreadCount(ctx context.Context, recipientID string) (int64, error) {
	var n int64
	err := s.DB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM notifications WHERE recipient_id=? AND is_read=0`, recipientID).Scan(&n)
	return n, err
}

// MarkRead flips the read flag and reports whether this call changed it.
func (s *Store) MarkRead(ctx context.Context, id string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
UPDATE notifications SET is_read=1 WHERE id=? AND is_read=0`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (*Notification, error) {
	var n Notification
	var typ, data string
	var isRead int
	var createdUnix int64
	err := row.Scan(&n.ID, &n.RecipientID, &typ, &n.Message, &data, &isRead, &createdUnix)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	n.Type = Type(typ)
	if data != "" {
		n.Data = []byte(data)
	}
	n.IsRead = isRead != 0
	n.CreatedAt = time.Unix(createdUnix, 0)
	return &n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
