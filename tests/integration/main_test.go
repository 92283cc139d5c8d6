package integration

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libris/internal/catalog"
	"libris/internal/lending"
	"libris/internal/storage"
	"libris/internal/users"
)

// setupTestDB connects to a local PostgreSQL instance and prepares a clean
// schema. The test is skipped when no database is reachable.
func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	getenv := func(key, fallback string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return fallback
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		getenv("PGHOST", "localhost"),
		getenv("PGPORT", "5432"),
		getenv("PGUSER", "libris"),
		getenv("PGPASSWORD", "libris"),
		getenv("PGDATABASE", "libris_test"),
	)

	db, err := sqlx.Open("postgres", dsn)
	require.NoError(t, err)

	if err := db.Ping(); err != nil {
		t.Skipf("skipping integration tests: could not connect to postgres: %v", err)
	}

	require.NoError(t, storage.EnsureSchema(context.Background(), db))

	_, err = db.Exec(`TRUNCATE TABLE lendings, lending_events, book_authors, authors, books, users RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	return db
}

type testSuite struct {
	db      *sqlx.DB
	catalog catalog.Service
	users   users.Service
	lending lending.Service
}

func newTestSuite(t *testing.T) *testSuite {
	db := setupTestDB(t)
	t.Cleanup(func() { db.Close() })

	store := storage.New(db)
	catalogSvc := catalog.NewService(db)
	userSvc := users.NewService(db)

	return &testSuite{
		db:      db,
		catalog: catalogSvc,
		users:   userSvc,
		lending: lending.NewService(storage.NewLendingStore(store), catalogSvc, userSvc),
	}
}

func TestLendingFlow(t *testing.T) {
	ts := newTestSuite(t)
	ctx := context.Background()

	ada, err := ts.users.Register(ctx, "Ada Lovelace", "ada@example.com", "SecurePass123!")
	require.NoError(t, err)
	grace, err := ts.users.Register(ctx, "Grace Hopper", "grace@example.com", "SecurePass123!")
	require.NoError(t, err)

	_, err = ts.catalog.AddBook(ctx, catalog.NewBook("978-0-13-235088-4", "Clean Code",
		[]catalog.Author{{Name: "Robert C. Martin"}}, 1))
	require.NoError(t, err)

	// Borrow with a separator-laden ISBN; normalization makes it the same key.
	rec, err := ts.lending.Borrow(ctx, ada.ID, "978-0-13-235088-4")
	require.NoError(t, err)
	assert.True(t, rec.Open())

	book, err := ts.catalog.FindBookByISBN(ctx, "9780132350884")
	require.NoError(t, err)
	assert.Equal(t, 0, book.Quantity)

	_, err = ts.lending.Borrow(ctx, grace.ID, "9780132350884")
	assert.ErrorIs(t, err, catalog.ErrNotAvailable)

	_, err = ts.lending.Return(ctx, grace.ID, rec.ID)
	assert.ErrorIs(t, err, lending.ErrNotAuthorized)

	view, err := ts.lending.Return(ctx, ada.ID, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, view.ReturnDate)

	book, err = ts.catalog.FindBookByISBN(ctx, "9780132350884")
	require.NoError(t, err)
	assert.Equal(t, 1, book.Quantity)

	_, err = ts.lending.Return(ctx, ada.ID, rec.ID)
	assert.ErrorIs(t, err, lending.ErrAlreadyReturned)

	history, err := ts.lending.History(ctx, ada.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.NotNil(t, history[0].ReturnDate)
	assert.Equal(t, "9780132350884", history[0].Book.ISBN)

	var auditCount int
	require.NoError(t, ts.db.Get(&auditCount, `SELECT COUNT(*) FROM lending_events`))
	assert.Equal(t, 2, auditCount, "one audit event per committed mutation")
}

func TestConcurrentBorrowsOfLastCopy(t *testing.T) {
	ts := newTestSuite(t)
	ctx := context.Background()

	ada, err := ts.users.Register(ctx, "Ada Lovelace", "ada@example.com", "SecurePass123!")
	require.NoError(t, err)

	_, err = ts.catalog.AddBook(ctx, catalog.NewBook("9780743273565", "The Great Gatsby",
		[]catalog.Author{{Name: "F. Scott Fitzgerald"}}, 1))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successCount := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ts.lending.Borrow(ctx, ada.ID, "9780743273565"); err == nil {
				mu.Lock()
				successCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successCount, "only one concurrent borrow may win the last copy")

	book, err := ts.catalog.FindBookByISBN(ctx, "9780743273565")
	require.NoError(t, err)
	assert.Equal(t, 0, book.Quantity)
}

func TestResetLedger(t *testing.T) {
	ts := newTestSuite(t)
	ctx := context.Background()

	ada, err := ts.users.Register(ctx, "Ada Lovelace", "ada@example.com", "SecurePass123!")
	require.NoError(t, err)
	_, err = ts.catalog.AddBook(ctx, catalog.NewBook("9780132350884", "Clean Code",
		[]catalog.Author{{Name: "Robert C. Martin"}}, 1))
	require.NoError(t, err)
	_, err = ts.lending.Borrow(ctx, ada.ID, "9780132350884")
	require.NoError(t, err)

	require.NoError(t, ts.lending.ResetLedger(ctx))

	history, err := ts.lending.History(ctx, ada.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}
