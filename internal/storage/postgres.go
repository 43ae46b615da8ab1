package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	logx "offerbot/pkg/logx"
)

// migrationLockID serializes schema setup between replicas ("offerb" in hex).
const migrationLockID = 0x6f6666657262

type pgStore struct {
	pool   *pgxpool.Pool
	log    logx.Logger
	window time.Duration
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	st := &pgStore{pool: pool, log: log, window: cfg.DedupWindow}
	if err := st.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Debug("postgres connected", logx.Int("max_conns", int(poolCfg.MaxConns)))
	return st, nil
}

func (s *pgStore) migrate(ctx context.Context) error {
	ddl, err := readMigration("postgres.sql")
	if err != nil {
		return err
	}
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			s.log.Warn("release migration lock failed", logx.Err(err))
		}
	}()

	_, err = conn.Exec(ctx, ddl)
	return err
}

func (s *pgStore) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *pgStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *pgStore) AddClient(ctx context.Context, c Client) (bool, error) {
	if c.RegDate.IsZero() {
		c.RegDate = nowUTC()
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO clients(user_id, username, first_name, last_name, reg_date)
		 VALUES($1,$2,$3,$4,$5)
		 ON CONFLICT(user_id) DO NOTHING`,
		c.UserID, nullStr(c.Username), nullStr(c.FirstName), nullStr(c.LastName), c.RegDate.UTC(),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *pgStore) IsClient(ctx context.Context, userID int64) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM clients WHERE user_id = $1`, userID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *pgStore) ListRecipientIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM clients ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (s *pgStore) ListClients(ctx context.Context, limit int) ([]Client, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, COALESCE(username,''), COALESCE(first_name,''), COALESCE(last_name,''), reg_date
		 FROM clients ORDER BY id DESC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Client, error) {
		var c Client
		err := row.Scan(&c.UserID, &c.Username, &c.FirstName, &c.LastName, &c.RegDate)
		c.RegDate = c.RegDate.UTC()
		return c, err
	})
}

func (s *pgStore) SaveConfirmation(ctx context.Context, c Confirmation) (int64, bool, error) {
	if c.ConfirmedAt.IsZero() {
		c.ConfirmedAt = nowUTC()
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Concurrent submissions of the same lead queue up behind this lock.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext(lower($1) || '|' || $2))`,
		c.Email, c.PaymentType); err != nil {
		return 0, false, err
	}

	var existing int64
	err = tx.QueryRow(ctx,
		`SELECT id FROM offer_confirmations
		 WHERE lower(email) = lower($1) AND payment_type = $2 AND confirmed_at >= $3
		 ORDER BY id DESC LIMIT 1`,
		c.Email, c.PaymentType, c.ConfirmedAt.Add(-s.window).UTC(),
	).Scan(&existing)
	switch {
	case err == nil:
		return existing, true, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return 0, false, err
	}

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO offer_confirmations(first_name, last_name, email, payment_type, confirmed_at,
		   ip_address, user_agent, telegram_user_id, telegram_username, additional_data)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		 RETURNING id`,
		c.FirstName, c.LastName, c.Email, c.PaymentType, c.ConfirmedAt.UTC(),
		nullStr(c.IPAddress), nullStr(c.UserAgent), nullStr(c.TelegramUserID), nullStr(c.TelegramUsername), nullStr(c.AdditionalData),
	).Scan(&id)
	if err != nil {
		return 0, false, err
	}
	return id, false, tx.Commit(ctx)
}

const pgConfirmationCols = `id, first_name, last_name, email, payment_type, confirmed_at,
	COALESCE(ip_address,''), COALESCE(user_agent,''), COALESCE(telegram_user_id,''),
	COALESCE(telegram_username,''), COALESCE(additional_data,'')`

func (s *pgStore) ListConfirmations(ctx context.Context, limit int) ([]Confirmation, error) {
	return s.queryConfirmations(ctx,
		`SELECT `+pgConfirmationCols+` FROM offer_confirmations ORDER BY id DESC LIMIT $1`, clampLimit(limit))
}

func (s *pgStore) AllConfirmations(ctx context.Context) ([]Confirmation, error) {
	return s.queryConfirmations(ctx, `SELECT `+pgConfirmationCols+` FROM offer_confirmations ORDER BY id`)
}

func (s *pgStore) queryConfirmations(ctx context.Context, q string, args ...any) ([]Confirmation, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Confirmation, error) {
		var c Confirmation
		err := row.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.PaymentType, &c.ConfirmedAt,
			&c.IPAddress, &c.UserAgent, &c.TelegramUserID, &c.TelegramUsername, &c.AdditionalData)
		c.ConfirmedAt = c.ConfirmedAt.UTC()
		return c, err
	})
}

func (s *pgStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByPaymentType: map[string]int{}}
	err := s.pool.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM clients),
		        (SELECT COUNT(*) FROM offer_confirmations),
		        (SELECT COUNT(*) FROM offer_confirmations WHERE confirmed_at >= $1)`,
		startOfDay(nowUTC()),
	).Scan(&st.Clients, &st.Confirmations, &st.ConfirmationsToday)
	if err != nil {
		return st, err
	}

	rows, err := s.pool.Query(ctx, `SELECT payment_type, COUNT(*) FROM offer_confirmations GROUP BY payment_type`)
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
