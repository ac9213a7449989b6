package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"safeguard/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the sqlite store, creating the database file and schema
// as needed.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) UpsertGroup(ctx context.Context, g Group) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if g.JoinedAt.IsZero() {
		g.JoinedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO groups(chat_id, title, portal_active, joined_at) VALUES(?,?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   title=excluded.title,
		   portal_active=MAX(groups.portal_active, excluded.portal_active),
		   joined_at=excluded.joined_at`,
		g.ChatID, nullStr(g.Title), boolInt(g.PortalActive), g.JoinedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) ListActiveGroups(ctx context.Context) ([]Group, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, title, portal_active, joined_at FROM groups WHERE portal_active = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Group
	for rows.Next() {
		var (
			g        Group
			title    sql.NullString
			active   int
			joinedAt int64
		)
		if err := rows.Scan(&g.ChatID, &title, &active, &joinedAt); err != nil {
			return nil, err
		}
		g.Title = title.String
		g.PortalActive = active != 0
		g.JoinedAt = time.UnixMilli(joinedAt)
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CountGroups(ctx context.Context) (int, int, error) {
	if s == nil || s.db == nil {
		return 0, 0, ErrClosed
	}
	var total, active int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(portal_active), 0) FROM groups`).Scan(&total, &active)
	return total, active, err
}

func (s *sqliteStore) AppendPayment(ctx context.Context, p Payment) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payments(telegram_id, amount_usd, plan_id, created_at) VALUES(?,?,?,?)`,
		p.TelegramID, p.AmountUSD, p.PlanID, p.CreatedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) PaymentSummary(ctx context.Context, since time.Time) (PaymentSummary, error) {
	if s == nil || s.db == nil {
		return PaymentSummary{}, ErrClosed
	}
	var sum PaymentSummary
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(amount_usd), 0) FROM payments WHERE created_at >= ?`,
		since.UnixMilli(),
	).Scan(&sum.Count, &sum.TotalUSD)
	return sum, err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
