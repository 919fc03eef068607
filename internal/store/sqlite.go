// Package store provides data persistence implementations.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "market-observer/internal/errors"
	"market-observer/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Alerts table
	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		pair TEXT NOT NULL,
		target_price REAL NOT NULL,
		condition TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		channels TEXT NOT NULL,
		email TEXT,
		phone TEXT,
		custom_message TEXT,
		created_at DATETIME NOT NULL,
		triggered_at DATETIME,
		last_checked_price REAL
	);

	-- Snapshot history table, append-only
	CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		title TEXT,
		majors TEXT,
		pairs TEXT NOT NULL,
		changes TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Candles table for derived OHLC data
	CREATE TABLE IF NOT EXISTS candles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pair TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		bucket_start DATETIME NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(pair, timeframe, bucket_start)
	);

	-- Create indexes for performance
	CREATE INDEX IF NOT EXISTS idx_alerts_pair ON alerts(pair);
	CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
	CREATE INDEX IF NOT EXISTS idx_snapshots_timestamp ON snapshots(timestamp);
	CREATE INDEX IF NOT EXISTS idx_candles_pair_timeframe ON candles(pair, timeframe);
	CREATE INDEX IF NOT EXISTS idx_candles_bucket_start ON candles(bucket_start);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Alert Methods
// ============================================================================

// SaveAlert inserts a new alert.
func (s *SQLiteStore) SaveAlert(ctx context.Context, alert *models.Alert) error {
	channels, err := json.Marshal(alert.Channels)
	if err != nil {
		return apperrors.NewPersistenceError("save", "alert", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alerts (id, pair, target_price, condition, status, channels, email, phone, custom_message, created_at, triggered_at, last_checked_price)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, alert.ID, alert.Pair, alert.TargetPrice, string(alert.Condition), string(alert.Status),
		string(channels), alert.Email, alert.Phone, alert.CustomMessage,
		alert.CreatedAt, alert.TriggeredAt, alert.LastCheckedPrice)
	if err != nil {
		return apperrors.NewPersistenceError("save", "alert", err)
	}
	return nil
}

// GetAlert retrieves an alert by ID.
func (s *SQLiteStore) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, pair, target_price, condition, status, channels, email, phone, custom_message, created_at, triggered_at, last_checked_price
		FROM alerts WHERE id = ?
	`, id)

	alert, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrDataNotFound
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("get", "alert", err)
	}
	return alert, nil
}

// ListAlerts retrieves alerts matching the filter.
func (s *SQLiteStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]models.Alert, error) {
	query := `SELECT id, pair, target_price, condition, status, channels, email, phone, custom_message, created_at, triggered_at, last_checked_price FROM alerts WHERE 1=1`
	args := []interface{}{}

	if filter.Pair != "" {
		query += " AND pair = ?"
		args = append(args, filter.Pair)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}

	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewPersistenceError("list", "alert", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, apperrors.NewPersistenceError("scan", "alert", err)
		}
		alerts = append(alerts, *alert)
	}

	return alerts, rows.Err()
}

// UpdateAlert persists alert mutations (status transition, price bookkeeping).
func (s *SQLiteStore) UpdateAlert(ctx context.Context, alert *models.Alert) error {
	channels, err := json.Marshal(alert.Channels)
	if err != nil {
		return apperrors.NewPersistenceError("update", "alert", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts
		SET pair = ?, target_price = ?, condition = ?, status = ?, channels = ?, email = ?, phone = ?, custom_message = ?, triggered_at = ?, last_checked_price = ?
		WHERE id = ?
	`, alert.Pair, alert.TargetPrice, string(alert.Condition), string(alert.Status),
		string(channels), alert.Email, alert.Phone, alert.CustomMessage,
		alert.TriggeredAt, alert.LastCheckedPrice, alert.ID)
	if err != nil {
		return apperrors.NewPersistenceError("update", "alert", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.ErrDataNotFound
	}
	return nil
}

// DeleteAlert removes an alert.
func (s *SQLiteStore) DeleteAlert(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE id = ?`, id)
	if err != nil {
		return apperrors.NewPersistenceError("delete", "alert", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.ErrDataNotFound
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var a models.Alert
	var condition, status, channelsJSON string
	var email, phone, message sql.NullString
	var triggeredAt sql.NullTime
	var lastChecked sql.NullFloat64

	err := row.Scan(&a.ID, &a.Pair, &a.TargetPrice, &condition, &status, &channelsJSON,
		&email, &phone, &message, &a.CreatedAt, &triggeredAt, &lastChecked)
	if err != nil {
		return nil, err
	}

	a.Condition = models.AlertCondition(condition)
	a.Status = models.AlertStatus(status)
	a.Email = email.String
	a.Phone = phone.String
	a.CustomMessage = message.String
	if triggeredAt.Valid {
		t := triggeredAt.Time
		a.TriggeredAt = &t
	}
	if lastChecked.Valid {
		p := lastChecked.Float64
		a.LastCheckedPrice = &p
	}
	if err := json.Unmarshal([]byte(channelsJSON), &a.Channels); err != nil {
		return nil, err
	}

	return &a, nil
}

// ============================================================================
// Snapshot History Methods
// ============================================================================

// AppendSnapshot appends a snapshot to the history log.
func (s *SQLiteStore) AppendSnapshot(ctx context.Context, snap *models.Snapshot) error {
	majors, err := json.Marshal(snap.Majors)
	if err != nil {
		return apperrors.NewPersistenceError("append", "snapshot", err)
	}
	pairs, err := json.Marshal(snap.Pairs)
	if err != nil {
		return apperrors.NewPersistenceError("append", "snapshot", err)
	}
	changes, err := json.Marshal(snap.Changes)
	if err != nil {
		return apperrors.NewPersistenceError("append", "snapshot", err)
	}

	ts := snap.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (timestamp, title, majors, pairs, changes)
		VALUES (?, ?, ?, ?, ?)
	`, ts, snap.Title, string(majors), string(pairs), string(changes))
	if err != nil {
		return apperrors.NewPersistenceError("append", "snapshot", err)
	}
	return nil
}

// GetSnapshots retrieves snapshots in time order, optionally bounded.
func (s *SQLiteStore) GetSnapshots(ctx context.Context, filter SnapshotFilter) ([]models.Snapshot, error) {
	query := `SELECT timestamp, title, majors, pairs, changes FROM snapshots WHERE 1=1`
	args := []interface{}{}

	if !filter.Start.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Start)
	}
	if !filter.End.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.End)
	}

	query += " ORDER BY timestamp ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewPersistenceError("list", "snapshot", err)
	}
	defer rows.Close()

	var snapshots []models.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, apperrors.NewPersistenceError("scan", "snapshot", err)
		}
		snapshots = append(snapshots, *snap)
	}

	return snapshots, rows.Err()
}

// GetSnapshotAt retrieves the snapshot at a time-ordered index.
func (s *SQLiteStore) GetSnapshotAt(ctx context.Context, index int) (*models.Snapshot, error) {
	if index < 0 {
		return nil, apperrors.ErrInvalidArgument
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT timestamp, title, majors, pairs, changes
		FROM snapshots ORDER BY timestamp ASC, id ASC LIMIT 1 OFFSET ?
	`, index)

	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrDataNotFound
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("get", "snapshot", err)
	}
	return snap, nil
}

// GetLatestSnapshot retrieves the most recent snapshot.
func (s *SQLiteStore) GetLatestSnapshot(ctx context.Context) (*models.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT timestamp, title, majors, pairs, changes
		FROM snapshots ORDER BY timestamp DESC, id DESC LIMIT 1
	`)

	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrDataNotFound
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("get", "snapshot", err)
	}
	return snap, nil
}

// CountSnapshots returns the total number of recorded snapshots.
func (s *SQLiteStore) CountSnapshots(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&count)
	if err != nil {
		return 0, apperrors.NewPersistenceError("count", "snapshot", err)
	}
	return count, nil
}

// SnapshotDateRange returns the earliest and latest recorded timestamps.
func (s *SQLiteStore) SnapshotDateRange(ctx context.Context) (time.Time, time.Time, error) {
	var earliest, latest sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT MIN(timestamp), MAX(timestamp) FROM snapshots`).Scan(&earliest, &latest)
	if err != nil {
		return time.Time{}, time.Time{}, apperrors.NewPersistenceError("range", "snapshot", err)
	}
	if !earliest.Valid || !latest.Valid {
		return time.Time{}, time.Time{}, apperrors.ErrDataNotFound
	}
	return earliest.Time, latest.Time, nil
}

// ClearSnapshots removes all recorded history.
func (s *SQLiteStore) ClearSnapshots(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM snapshots`)
	if err != nil {
		return apperrors.NewPersistenceError("clear", "snapshot", err)
	}
	return nil
}

func scanSnapshot(row rowScanner) (*models.Snapshot, error) {
	var snap models.Snapshot
	var majorsJSON, pairsJSON, changesJSON sql.NullString
	var title sql.NullString

	err := row.Scan(&snap.Timestamp, &title, &majorsJSON, &pairsJSON, &changesJSON)
	if err != nil {
		return nil, err
	}

	snap.Title = title.String
	if majorsJSON.Valid && majorsJSON.String != "" {
		if err := json.Unmarshal([]byte(majorsJSON.String), &snap.Majors); err != nil {
			return nil, err
		}
	}
	if pairsJSON.Valid && pairsJSON.String != "" {
		if err := json.Unmarshal([]byte(pairsJSON.String), &snap.Pairs); err != nil {
			return nil, err
		}
	}
	if changesJSON.Valid && changesJSON.String != "" {
		if err := json.Unmarshal([]byte(changesJSON.String), &snap.Changes); err != nil {
			return nil, err
		}
	}

	return &snap, nil
}

// ============================================================================
// Candle Methods
// ============================================================================

// SaveCandles saves candles, replacing any existing candle in the same bucket.
func (s *SQLiteStore) SaveCandles(ctx context.Context, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewPersistenceError("save", "candle", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (pair, timeframe, bucket_start, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return apperrors.NewPersistenceError("save", "candle", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.ExecContext(ctx, c.Pair, string(c.Timeframe), c.BucketStart, c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			return apperrors.NewPersistenceError("save", "candle", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewPersistenceError("save", "candle", err)
	}

	return nil
}

// GetCandles retrieves candles matching the filter in ascending bucket order.
func (s *SQLiteStore) GetCandles(ctx context.Context, filter CandleFilter) ([]models.Candle, error) {
	query := `SELECT pair, timeframe, bucket_start, open, high, low, close, volume FROM candles WHERE timeframe = ?`
	args := []interface{}{string(filter.Timeframe)}

	if filter.Pair != "" {
		query += " AND pair = ?"
		args = append(args, filter.Pair)
	}
	if !filter.Start.IsZero() {
		query += " AND bucket_start >= ?"
		args = append(args, filter.Start)
	}
	if !filter.End.IsZero() {
		query += " AND bucket_start <= ?"
		args = append(args, filter.End)
	}

	// Latest N, returned oldest-first
	if filter.Limit > 0 {
		query = `SELECT * FROM (` + query + ` ORDER BY bucket_start DESC LIMIT ?) ORDER BY bucket_start ASC`
		args = append(args, filter.Limit)
	} else {
		query += " ORDER BY bucket_start ASC"
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewPersistenceError("list", "candle", err)
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var c models.Candle
		var timeframe string
		if err := rows.Scan(&c.Pair, &timeframe, &c.BucketStart, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, apperrors.NewPersistenceError("scan", "candle", err)
		}
		c.Timeframe = models.Timeframe(timeframe)
		candles = append(candles, c)
	}

	return candles, rows.Err()
}

// GetLatestCandle retrieves the most recent candle for a timeframe,
// optionally filtered by pair.
func (s *SQLiteStore) GetLatestCandle(ctx context.Context, timeframe models.Timeframe, pair string) (*models.Candle, error) {
	query := `SELECT pair, timeframe, bucket_start, open, high, low, close, volume FROM candles WHERE timeframe = ?`
	args := []interface{}{string(timeframe)}

	if pair != "" {
		query += " AND pair = ?"
		args = append(args, pair)
	}
	query += " ORDER BY bucket_start DESC LIMIT 1"

	var c models.Candle
	var tf string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&c.Pair, &tf, &c.BucketStart, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrDataNotFound
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("get", "candle", err)
	}
	c.Timeframe = models.Timeframe(tf)
	return &c, nil
}

// CandleStats returns the number of stored candles per timeframe.
func (s *SQLiteStore) CandleStats(ctx context.Context) (map[models.Timeframe]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT timeframe, COUNT(*) FROM candles GROUP BY timeframe`)
	if err != nil {
		return nil, apperrors.NewPersistenceError("stats", "candle", err)
	}
	defer rows.Close()

	stats := make(map[models.Timeframe]int)
	for _, tf := range models.Timeframes {
		stats[tf] = 0
	}
	for rows.Next() {
		var tf string
		var count int
		if err := rows.Scan(&tf, &count); err != nil {
			return nil, apperrors.NewPersistenceError("scan", "candle", err)
		}
		stats[models.Timeframe(tf)] = count
	}

	return stats, rows.Err()
}

// DeleteCandles removes stored candles for a timeframe, optionally scoped to
// a pair. Used before regeneration to replace derived data wholesale.
func (s *SQLiteStore) DeleteCandles(ctx context.Context, timeframe models.Timeframe, pair string) error {
	query := `DELETE FROM candles WHERE timeframe = ?`
	args := []interface{}{string(timeframe)}
	if pair != "" {
		query += " AND pair = ?"
		args = append(args, pair)
	}

	_, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewPersistenceError("delete", "candle", err)
	}
	return nil
}
