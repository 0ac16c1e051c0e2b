// Package ledger is the persistent record of which item ids a feed has
// already delivered. One table per feed; the table is created outside the
// process (see migrations/).
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"telegram_news/internal/domain"
)

type PostedStore struct {
	db      *sqlx.DB
	tx      *TransactionManager
	table   string
	maxRows int
	now     func() time.Time
	logger  *slog.Logger
}

// NewPostedStore binds a store to one feed table. maxRows <= 0 disables
// trimming.
func NewPostedStore(db *sqlx.DB, table string, maxRows int, logger *slog.Logger) *PostedStore {
	return &PostedStore{
		db:      db,
		tx:      NewTransactionManager(db),
		table:   pq.QuoteIdentifier(table),
		maxRows: maxRows,
		now:     time.Now,
		logger:  logger.With("table", table),
	}
}

func (s *PostedStore) IsPosted(ctx context.Context, newsID string) (bool, error) {
	query := s.db.Rebind(`SELECT COUNT(*) FROM ` + s.table + ` WHERE news_id = ?`)

	var count int
	if err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &count, query, newsID); err != nil {
		return false, fmt.Errorf("check posted %s: %w", newsID, err)
	}
	return count > 0, nil
}

// RecordPosted inserts newsID. Recording an id twice is a no-op.
func (s *PostedStore) RecordPosted(ctx context.Context, newsID string) error {
	query := s.db.Rebind(`
		INSERT INTO ` + s.table + ` (news_id, posted_at)
		VALUES (?, ?)
		ON CONFLICT (news_id) DO NOTHING`)

	if _, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, newsID, s.now().UTC()); err != nil {
		return fmt.Errorf("record posted %s: %w", newsID, err)
	}
	return nil
}

func (s *PostedStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &count, `SELECT COUNT(*) FROM `+s.table); err != nil {
		return 0, fmt.Errorf("count posted: %w", err)
	}
	return count, nil
}

// Trim deletes the oldest third of the ceiling once the table holds more
// than two thirds of it. Rows are ordered by their auto-increment key.
func (s *PostedStore) Trim(ctx context.Context) (int64, error) {
	if s.maxRows <= 0 {
		return 0, nil
	}

	var deleted int64
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		count, err := s.Count(ctx)
		if err != nil {
			return err
		}
		if count*3 <= s.maxRows*2 {
			return nil
		}

		var oldest []domain.PostRecord
		query := s.db.Rebind(`SELECT id, news_id, posted_at FROM ` + s.table + ` ORDER BY id ASC LIMIT ?`)
		if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &oldest, query, s.maxRows/3); err != nil {
			return fmt.Errorf("select oldest: %w", err)
		}
		if len(oldest) == 0 {
			return nil
		}

		last := oldest[len(oldest)-1]
		res, err := GetExecutor(ctx, s.db).ExecContext(ctx,
			s.db.Rebind(`DELETE FROM `+s.table+` WHERE id <= ?`), last.ID)
		if err != nil {
			return fmt.Errorf("delete oldest: %w", err)
		}
		deleted, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}

		s.logger.Info("trimmed ledger",
			"rows", deleted,
			"through_id", last.ID,
			"through_posted_at", last.PostedAt,
		)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("trim %s: %w", s.table, err)
	}
	return deleted, nil
}
