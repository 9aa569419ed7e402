package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/tos-network/poolwatch/internal/alerts"
	"github.com/tos-network/poolwatch/internal/util"
)

var sqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS wallet_state (
		wallet_id TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS notified (
		notify_key TEXT PRIMARY KEY
	)`,
	`CREATE TABLE IF NOT EXISTS snapshots (
		wallet_id TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		fetched_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		wallet_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		data TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS events_created_at ON events (created_at)`,
}

// SQLStore stores poller state in SQLite or PostgreSQL
type SQLStore struct {
	db *sqlx.DB
}

type jsonRow struct {
	ID   string `db:"id"`
	Data string `db:"data"`
}

// NewSQLStore opens the database and creates the schema. driver is
// "sqlite" or "postgres".
func NewSQLStore(driver, dsn string) (*SQLStore, error) {
	switch driver {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("unsupported SQL driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", driver, err)
	}

	if driver == "sqlite" {
		// SQLite allows one writer; in-memory databases are per connection.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil && !strings.Contains(dsn, ":memory:") {
			db.Close()
			return nil, fmt.Errorf("failed to set WAL mode: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s connection failed: %w", driver, err)
	}

	for _, stmt := range sqlSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	util.Infof("Connected to %s store", driver)
	return &SQLStore{db: db}, nil
}

// Close closes the database
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping checks the connection
func (s *SQLStore) Ping() error {
	return s.db.Ping()
}

func (s *SQLStore) upsert(table, keyCol, tsCol, key string, data []byte, ts int64) error {
	query := s.db.Rebind(fmt.Sprintf(
		`INSERT INTO %s (%s, data, %s) VALUES (?, ?, ?)
		ON CONFLICT (%s) DO UPDATE SET data = excluded.data, %s = excluded.%s`,
		table, keyCol, tsCol, keyCol, tsCol, tsCol))
	_, err := s.db.Exec(query, key, string(data), ts)
	return err
}

// GetWalletState returns the stored alert state for a wallet
func (s *SQLStore) GetWalletState(walletID string) (*alerts.WalletState, error) {
	var data string
	err := s.db.Get(&data, s.db.Rebind("SELECT data FROM wallet_state WHERE wallet_id = ?"), walletID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var state alerts.WalletState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("decode wallet state %s: %w", walletID, err)
	}
	return &state, nil
}

// SaveWalletState replaces the stored alert state for a wallet
func (s *SQLStore) SaveWalletState(walletID string, state alerts.WalletState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.upsert("wallet_state", "wallet_id", "updated_at", walletID, data, state.UpdatedAt.UnixMilli())
}

// GetNotified returns the de-duplication set
func (s *SQLStore) GetNotified() (alerts.NotifiedSet, error) {
	var keys []string
	if err := s.db.Select(&keys, "SELECT notify_key FROM notified"); err != nil {
		return nil, err
	}
	return alerts.NewNotifiedSet(keys...), nil
}

// SaveNotified replaces the de-duplication set in one transaction
func (s *SQLStore) SaveNotified(set alerts.NotifiedSet) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM notified"); err != nil {
		return err
	}
	insert := tx.Rebind("INSERT INTO notified (notify_key) VALUES (?)")
	for _, k := range set.Keys() {
		if _, err := tx.Exec(insert, k); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SaveSnapshot stores the latest snapshot for a wallet
func (s *SQLStore) SaveSnapshot(snap *WalletSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.upsert("snapshots", "wallet_id", "fetched_at", snap.WalletID, data, snap.FetchedAt.UnixMilli())
}

// GetSnapshot returns the latest snapshot for a wallet
func (s *SQLStore) GetSnapshot(walletID string) (*WalletSnapshot, error) {
	var data string
	err := s.db.Get(&data, s.db.Rebind("SELECT data FROM snapshots WHERE wallet_id = ?"), walletID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snap WalletSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", walletID, err)
	}
	return &snap, nil
}

// GetSnapshots returns every stored snapshot ordered by wallet id
func (s *SQLStore) GetSnapshots() ([]*WalletSnapshot, error) {
	var rows []jsonRow
	if err := s.db.Select(&rows, "SELECT wallet_id AS id, data FROM snapshots ORDER BY wallet_id"); err != nil {
		return nil, err
	}

	snaps := make([]*WalletSnapshot, 0, len(rows))
	for _, row := range rows {
		var snap WalletSnapshot
		if err := json.Unmarshal([]byte(row.Data), &snap); err != nil {
			util.Warnf("Skipping corrupt snapshot %s: %v", row.ID, err)
			continue
		}
		snaps = append(snaps, &snap)
	}
	return snaps, nil
}

// AddEvents inserts events and prunes everything beyond MaxEvents
func (s *SQLStore) AddEvents(events []alerts.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	insert := tx.Rebind("INSERT INTO events (id, wallet_id, kind, created_at, data) VALUES (?, ?, ?, ?, ?)")
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(insert, ev.ID, ev.WalletID, string(ev.Kind), ev.CreatedAt.UnixMilli(), string(data)); err != nil {
			return err
		}
	}

	prune := tx.Rebind(`DELETE FROM events WHERE id NOT IN (
		SELECT id FROM events ORDER BY created_at DESC LIMIT ?)`)
	if _, err := tx.Exec(prune, MaxEvents); err != nil {
		return err
	}
	return tx.Commit()
}

// GetRecentEvents returns up to limit events, newest first
func (s *SQLStore) GetRecentEvents(limit int64) ([]alerts.Event, error) {
	if limit <= 0 || limit > MaxEvents {
		limit = MaxEvents
	}

	var rows []jsonRow
	query := s.db.Rebind("SELECT id, data FROM events ORDER BY created_at DESC LIMIT ?")
	if err := s.db.Select(&rows, query, limit); err != nil {
		return nil, err
	}

	events := make([]alerts.Event, 0, len(rows))
	for _, row := range rows {
		var ev alerts.Event
		if err := json.Unmarshal([]byte(row.Data), &ev); err == nil {
			events = append(events, ev)
		}
	}
	return events, nil
}
