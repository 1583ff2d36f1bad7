package scheduler

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store persists deliveries and subscriptions so reminders survive a
// restart. The scheduler works without one (memory-only, tests).
type Store interface {
	SaveDelivery(d *Delivery) error
	UpdateDelivery(d *Delivery) error
	PendingDeliveries() ([]*Delivery, error)

	SaveSubscription(sub *Subscription) error
	DeleteSubscriptions(chatID string) (int, error)
	Subscriptions() ([]*Subscription, error)

	Close() error
}

// SQLiteStore is the sqlite-backed Store implementation.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the scheduler database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// sqlite handles one writer at a time; serialize at the pool level.
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS deliveries (
		id          TEXT PRIMARY KEY,
		channel     TEXT NOT NULL,
		destination TEXT NOT NULL,
		payload     TEXT NOT NULL,
		fire_at     INTEGER NOT NULL,
		state       TEXT NOT NULL,
		attempts    INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_deliveries_state ON deliveries(state);

	CREATE TABLE IF NOT EXISTS subscriptions (
		id         TEXT PRIMARY KEY,
		channel    TEXT NOT NULL,
		chat_id    TEXT NOT NULL,
		expr       TEXT NOT NULL,
		topic      TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_chat ON subscriptions(chat_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveDelivery(d *Delivery) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO deliveries (id, channel, destination, payload, fire_at, state, attempts)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Channel, d.Destination, d.Payload, d.FireAt.Unix(), string(d.State), d.Attempts,
	)
	return err
}

func (s *SQLiteStore) UpdateDelivery(d *Delivery) error {
	_, err := s.db.Exec(
		`UPDATE deliveries SET state = ?, attempts = ? WHERE id = ?`,
		string(d.State), d.Attempts, d.ID,
	)
	return err
}

func (s *SQLiteStore) PendingDeliveries() ([]*Delivery, error) {
	rows, err := s.db.Query(
		`SELECT id, channel, destination, payload, fire_at, state, attempts
		 FROM deliveries WHERE state = ? ORDER BY fire_at`,
		string(StatePending),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Delivery
	for rows.Next() {
		var d Delivery
		var fireAt int64
		var state string
		if err := rows.Scan(&d.ID, &d.Channel, &d.Destination, &d.Payload, &fireAt, &state, &d.Attempts); err != nil {
			return nil, err
		}
		d.FireAt = time.Unix(fireAt, 0)
		d.State = DeliveryState(state)
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveSubscription(sub *Subscription) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO subscriptions (id, channel, chat_id, expr, topic, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.Channel, sub.ChatID, sub.Expr, sub.Topic, sub.CreatedAt.Unix(),
	)
	return err
}

func (s *SQLiteStore) DeleteSubscriptions(chatID string) (int, error) {
	res, err := s.db.Exec(`DELETE FROM subscriptions WHERE chat_id = ?`, chatID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) Subscriptions() ([]*Subscription, error) {
	rows, err := s.db.Query(`SELECT id, channel, chat_id, expr, topic, created_at FROM subscriptions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Subscription
	for rows.Next() {
		var sub Subscription
		var created int64
		if err := rows.Scan(&sub.ID, &sub.Channel, &sub.ChatID, &sub.Expr, &sub.Topic, &created); err != nil {
			return nil, err
		}
		sub.CreatedAt = time.Unix(created, 0)
		out = append(out, &sub)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
