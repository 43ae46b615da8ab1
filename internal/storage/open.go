package storage

import (
	"context"
	"embed"
	"errors"
	"strings"
	"time"

	logx "offerbot/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the persistence API used by the bots, the lead service and the HTTP API.
type Store interface {
	// AddClient registers c and reports whether it was new.
	AddClient(ctx context.Context, c Client) (bool, error)
	IsClient(ctx context.Context, userID int64) (bool, error)
	// ListRecipientIDs returns every client's user id in registration order.
	ListRecipientIDs(ctx context.Context) ([]int64, error)
	// ListClients returns up to limit clients, newest first.
	ListClients(ctx context.Context, limit int) ([]Client, error)

	// SaveConfirmation stores c unless an identical lead (same lower-cased
	// email and payment type) was saved within the dedup window; in that case
	// it returns the existing id and duplicate=true.
	SaveConfirmation(ctx context.Context, c Confirmation) (id int64, duplicate bool, err error)
	// ListConfirmations returns up to limit confirmations, newest first.
	ListConfirmations(ctx context.Context, limit int) ([]Confirmation, error)
	// AllConfirmations returns every confirmation, oldest first.
	AllConfirmations(ctx context.Context) ([]Confirmation, error)
	Stats(ctx context.Context) (Stats, error)

	Ping(ctx context.Context) error
	Close() error
}

// Open initializes the configured store and applies migrations.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = defaultDedupWindow
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	var (
		st  Store
		err error
	)
	switch driver {
	case "", "sqlite", "sqlite3":
		st, err = openSQLite(ctx, cfg, log)
	case "postgres", "postgresql", "pgx":
		st, err = openPostgres(ctx, cfg, log)
	case "memory":
		st = NewMemory(cfg.DedupWindow)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
	if err != nil {
		return nil, err
	}
	log.Info("storage opened")
	return st, nil
}

func readMigration(name string) (string, error) {
	b, err := migrationsFS.ReadFile("migrations/" + name)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nowUTC() time.Time { return time.Now().UTC() }
