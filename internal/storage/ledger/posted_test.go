package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestPostedStore_QuotesTableAndBindsValues(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer raw.Close()
	db := sqlx.NewDb(raw, "postgres")

	store := NewPostedStore(db, `feed"; DROP TABLE x; --`, 0, testLogger())
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "feed""; DROP TABLE x; --" WHERE news_id = $1`)).
		WithArgs("123").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "feed""; DROP TABLE x; --" (news_id, posted_at)`)).
		WithArgs("123", fixed).
		WillReturnResult(sqlmock.NewResult(1, 1))

	posted, err := store.IsPosted(context.Background(), "123")
	require.NoError(t, err)
	assert.False(t, posted)
	require.NoError(t, store.RecordPosted(context.Background(), "123"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostedStore_TrimDeletesOldestThirdInOneTransaction(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer raw.Close()
	db := sqlx.NewDb(raw, "postgres")
	store := NewPostedStore(db, "posted_news", 30, testLogger())

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "posted_news"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(21))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, news_id, posted_at FROM "posted_news" ORDER BY id ASC LIMIT $1`)).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "news_id", "posted_at"}).
			AddRow(1, "a", time.Now()).
			AddRow(10, "j", time.Now()))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "posted_news" WHERE id <= $1`)).
		WithArgs(int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 10))
	mock.ExpectCommit()

	deleted, err := store.Trim(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostedStore_TrimRollsBackOnError(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer raw.Close()
	store := NewPostedStore(sqlx.NewDb(raw, "postgres"), "posted_news", 30, testLogger())

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*)`)).WillReturnError(fmt.Errorf("boom"))
	mock.ExpectRollback()

	_, err = store.Trim(context.Background())
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

const sqliteSchema = `CREATE TABLE posted_news (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	news_id TEXT NOT NULL UNIQUE,
	posted_at TIMESTAMP NOT NULL
)`

type SQLiteLedgerSuite struct {
	suite.Suite
	ctx context.Context
	db  *sqlx.DB
}

func (s *SQLiteLedgerSuite) SetupTest() {
	s.ctx = context.Background()
	db, err := sqlx.Connect("sqlite3", ":memory:")
	s.Require().NoError(err)
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	_, err = db.ExecContext(s.ctx, sqliteSchema)
	s.Require().NoError(err)
	s.db = db
}

func (s *SQLiteLedgerSuite) TearDownTest() {
	s.db.Close()
}

func TestSQLiteLedgerSuite(t *testing.T) {
	suite.Run(t, new(SQLiteLedgerSuite))
}

func (s *SQLiteLedgerSuite) TestRecordIsIdempotent() {
	store := NewPostedStore(s.db, "posted_news", 0, testLogger())

	s.Require().NoError(store.RecordPosted(s.ctx, "A"))
	s.Require().NoError(store.RecordPosted(s.ctx, "A"))

	posted, err := store.IsPosted(s.ctx, "A")
	s.NoError(err)
	s.True(posted)

	posted, err = store.IsPosted(s.ctx, "B")
	s.NoError(err)
	s.False(posted)

	count, err := store.Count(s.ctx)
	s.NoError(err)
	s.Equal(1, count)
}

func (s *SQLiteLedgerSuite) TestTrimKeepsNewestRows() {
	store := NewPostedStore(s.db, "posted_news", 9, testLogger())

	for i := 1; i <= 6; i++ {
		s.Require().NoError(store.RecordPosted(s.ctx, fmt.Sprintf("n%d", i)))
	}
	// 6 rows is exactly two thirds of 9
	deleted, err := store.Trim(s.ctx)
	s.NoError(err)
	s.Zero(deleted)

	s.Require().NoError(store.RecordPosted(s.ctx, "n7"))
	deleted, err = store.Trim(s.ctx)
	s.NoError(err)
	s.Equal(int64(3), deleted)

	for _, id := range []string{"n1", "n2", "n3"} {
		posted, err := store.IsPosted(s.ctx, id)
		s.NoError(err)
		s.False(posted, id)
	}
	for _, id := range []string{"n4", "n5", "n6", "n7"} {
		posted, err := store.IsPosted(s.ctx, id)
		s.NoError(err)
		s.True(posted, id)
	}
}

func (s *SQLiteLedgerSuite) TestTrimDisabled() {
	store := NewPostedStore(s.db, "posted_news", -1, testLogger())
	for i := 0; i < 5; i++ {
		s.Require().NoError(store.RecordPosted(s.ctx, fmt.Sprint(i)))
	}
	deleted, err := store.Trim(s.ctx)
	s.NoError(err)
	s.Zero(deleted)
}
