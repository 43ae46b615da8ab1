package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "offerbot/pkg/logx"
)

type sqliteStore struct {
	db     *sql.DB
	log    logx.Logger
	window time.Duration
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.DSN)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, window: cfg.DedupWindow}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	ddl, err := readMigration("sqlite.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, ddl)
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *sqliteStore) AddClient(ctx context.Context, c Client) (bool, error) {
	if c.RegDate.IsZero() {
		c.RegDate = nowUTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO clients(user_id, username, first_name, last_name, reg_date)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(user_id) DO NOTHING`,
		c.UserID, nullStr(c.Username), nullStr(c.FirstName), nullStr(c.LastName), c.RegDate.UTC().Format(sqliteTime),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqliteStore) IsClient(ctx context.Context, userID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM clients WHERE user_id = ?`, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *sqliteStore) ListRecipientIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM clients ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListClients(ctx context.Context, limit int) ([]Client, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, COALESCE(username,''), COALESCE(first_name,''), COALESCE(last_name,''), reg_date
		 FROM clients ORDER BY id DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Client
	for rows.Next() {
		var (
			c   Client
			reg string
		)
		if err := rows.Scan(&c.UserID, &c.Username, &c.FirstName, &c.LastName, &reg); err != nil {
			return nil, err
		}
		c.RegDate = parseSQLiteTime(reg)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveConfirmation(ctx context.Context, c Confirmation) (int64, bool, error) {
	if c.ConfirmedAt.IsZero() {
		c.ConfirmedAt = nowUTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, err
	}
	defer func() { _ = tx.Rollback() }()

	since := c.ConfirmedAt.Add(-s.window).UTC().Format(sqliteTime)
	var existing int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM offer_confirmations
		 WHERE lower(email) = lower(?) AND payment_type = ? AND confirmed_at >= ?
		 ORDER BY id DESC LIMIT 1`,
		c.Email, c.PaymentType, since,
	).Scan(&existing)
	switch {
	case err == nil:
		return existing, true, nil
	case !errors.Is(err, sql.ErrNoRows):
		return 0, false, err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO offer_confirmations(first_name, last_name, email, payment_type, confirmed_at,
		   ip_address, user_agent, telegram_user_id, telegram_username, additional_data)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		c.FirstName, c.LastName, c.Email, c.PaymentType, c.ConfirmedAt.UTC().Format(sqliteTime),
		nullStr(c.IPAddress), nullStr(c.UserAgent), nullStr(c.TelegramUserID), nullStr(c.TelegramUsername), nullStr(c.AdditionalData),
	)
	if err != nil {
		return 0, false, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, err
	}
	return id, false, tx.Commit()
}

const sqliteConfirmationCols = `id, first_name, last_name, email, payment_type, confirmed_at,
	COALESCE(ip_address,''), COALESCE(user_agent,''), COALESCE(telegram_user_id,''),
	COALESCE(telegram_username,''), COALESCE(additional_data,'')`

func (s *sqliteStore) ListConfirmations(ctx context.Context, limit int) ([]Confirmation, error) {
	return s.queryConfirmations(ctx,
		`SELECT `+sqliteConfirmationCols+` FROM offer_confirmations ORDER BY id DESC LIMIT ?`, clampLimit(limit))
}

func (s *sqliteStore) AllConfirmations(ctx context.Context) ([]Confirmation, error) {
	return s.queryConfirmations(ctx, `SELECT `+sqliteConfirmationCols+` FROM offer_confirmations ORDER BY id`)
}

func (s *sqliteStore) queryConfirmations(ctx context.Context, q string, args ...any) ([]Confirmation, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Confirmation
	for rows.Next() {
		var (
			c  Confirmation
			at string
		)
		if err := rows.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.PaymentType, &at,
			&c.IPAddress, &c.UserAgent, &c.TelegramUserID, &c.TelegramUsername, &c.AdditionalData); err != nil {
			return nil, err
		}
		c.ConfirmedAt = parseSQLiteTime(at)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByPaymentType: map[string]int{}}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM clients`).Scan(&st.Clients); err != nil {
		return st, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM offer_confirmations`).Scan(&st.Confirmations); err != nil {
		return st, err
	}
	today := startOfDay(nowUTC()).Format(sqliteTime)
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM offer_confirmations WHERE confirmed_at >= ?`, today).Scan(&st.ConfirmationsToday); err != nil {
		return st, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT payment_type, COUNT(*) FROM offer_confirmations GROUP BY payment_type`)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			pt string
			n  int
		)
		if err := rows.Scan(&pt, &n); err != nil {
			return st, err
		}
		st.ByPaymentType[pt] = n
	}
	return st, rows.Err()
}

func parseSQLiteTime(s string) time.Time {
	t, err := time.ParseInLocation(sqliteTime, s, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}
