package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"libris/internal/audit"
	"libris/internal/catalog"
	"libris/internal/lending"
	"libris/internal/users"
)

var dialect = goqu.Dialect("postgres")

// LendingStore is the Postgres implementation of the lending workflow's
// store port. Every commit method runs as one transaction: the quantity
// mutation, the record mutation and the audit entry land together or not
// at all.
type LendingStore struct {
	store *Store
}

// NewLendingStore creates a lending store on top of the shared Store.
func NewLendingStore(store *Store) *LendingStore {
	return &LendingStore{store: store}
}

// CommitBorrow persists a borrow: conditional decrement of the book row,
// record insert, audit entry. The conditional UPDATE takes a row lock on the
// book, so a concurrent borrow of the last copy either waits for this
// transaction or sees quantity 0 and fails with catalog.ErrNotAvailable.
func (s *LendingStore) CommitBorrow(ctx context.Context, rec *lending.Lending) (*lending.Lending, error) {
	ctx, span := s.store.tracer.Start(ctx, "storage.commit_borrow",
		trace.WithAttributes(
			attribute.String("book.isbn", rec.Book.ISBN),
			attribute.Int64("user.id", rec.User.ID),
		),
	)
	defer span.End()

	err := s.store.RunInTransaction(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE books
			SET quantity = quantity - 1, updated_at = NOW()
			WHERE isbn = $1 AND quantity > 0
		`, rec.Book.ISBN)
		if err != nil {
			return fmt.Errorf("decrement quantity: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("decrement quantity: %w", err)
		}
		if n == 0 {
			return catalog.ErrNotAvailable
		}

		err = tx.QueryRowContext(ctx, `
			INSERT INTO lendings (book_isbn, user_id, lending_date)
			VALUES ($1, $2, $3)
			RETURNING id
		`, rec.Book.ISBN, rec.User.ID, rec.LendingDate).Scan(&rec.ID)
		if err != nil {
			return fmt.Errorf("insert lending: %w", err)
		}

		return audit.Record(ctx, tx, rec.ID, audit.EventBookBorrowed, audit.BookBorrowed{
			LendingID:   rec.ID,
			ISBN:        rec.Book.ISBN,
			UserID:      rec.User.ID,
			LendingDate: rec.LendingDate.Format(time.RFC3339Nano),
		})
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int64("lending.id", rec.ID))
	return rec, nil
}

// CommitReturn persists a return: conditional return-date stamp, quantity
// increment, audit entry. A record closed by a concurrent return surfaces as
// lending.ErrAlreadyReturned and leaves no state change behind.
func (s *LendingStore) CommitReturn(ctx context.Context, rec *lending.Lending) error {
	ctx, span := s.store.tracer.Start(ctx, "storage.commit_return",
		trace.WithAttributes(attribute.Int64("lending.id", rec.ID)),
	)
	defer span.End()

	return s.store.RunInTransaction(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE lendings
			SET return_date = $1
			WHERE id = $2 AND return_date IS NULL
		`, rec.ReturnDate, rec.ID)
		if err != nil {
			return fmt.Errorf("stamp return date: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("stamp return date: %w", err)
		}
		if n == 0 {
			return lending.ErrAlreadyReturned
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE books
			SET quantity = quantity + 1, updated_at = NOW()
			WHERE isbn = $1
		`, rec.Book.ISBN)
		if err != nil {
			return fmt.Errorf("increment quantity: %w", err)
		}

		return audit.Record(ctx, tx, rec.ID, audit.EventBookReturned, audit.BookReturned{
			LendingID:  rec.ID,
			ISBN:       rec.Book.ISBN,
			UserID:     rec.User.ID,
			ReturnDate: rec.ReturnDate.Format(time.RFC3339Nano),
		})
	})
}

// lendingRow is the flattened join of a lending with its book and user.
type lendingRow struct {
	ID           int64      `db:"id"`
	LendingDate  time.Time  `db:"lending_date"`
	ReturnDate   *time.Time `db:"return_date"`
	BookISBN     string     `db:"book_isbn"`
	BookTitle    string     `db:"book_title"`
	BookQuantity int        `db:"book_quantity"`
	UserID       int64      `db:"user_id"`
	UserName     string     `db:"user_name"`
	UserEmail    string     `db:"user_email"`
}

func lendingQuery() *goqu.SelectDataset {
	return dialect.From(goqu.T("lendings").As("l")).
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("b.isbn").Eq(goqu.I("l.book_isbn")))).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("l.user_id")))).
		Select(
			goqu.I("l.id").As("id"),
			goqu.I("l.lending_date").As("lending_date"),
			goqu.I("l.return_date").As("return_date"),
			goqu.I("b.isbn").As("book_isbn"),
			goqu.I("b.title").As("book_title"),
			goqu.I("b.quantity").As("book_quantity"),
			goqu.I("u.id").As("user_id"),
			goqu.I("u.name").As("user_name"),
			goqu.I("u.email").As("user_email"),
		)
}

// FindLendingByID loads one record with its book and user joined in.
func (s *LendingStore) FindLendingByID(ctx context.Context, id int64) (*lending.Lending, error) {
	query, args, err := lendingQuery().
		Where(goqu.I("l.id").Eq(id)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build lending query: %w", err)
	}

	var row lendingRow
	if err := s.store.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, lending.ErrLendingNotFound
		}
		return nil, fmt.Errorf("get lending: %w", err)
	}

	return s.toLending(ctx, row)
}

// FindLendingsByUser loads every record of the user, oldest first.
func (s *LendingStore) FindLendingsByUser(ctx context.Context, userID int64) ([]*lending.Lending, error) {
	query, args, err := lendingQuery().
		Where(goqu.I("l.user_id").Eq(userID)).
		Order(goqu.I("l.id").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build history query: %w", err)
	}

	var rows []lendingRow
	if err := s.store.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select lendings: %w", err)
	}

	recs := make([]*lending.Lending, 0, len(rows))
	for _, row := range rows {
		rec, err := s.toLending(ctx, row)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// DeleteAllLendings wipes the lendings table. The audit trail is kept.
func (s *LendingStore) DeleteAllLendings(ctx context.Context) error {
	if _, err := s.store.db.ExecContext(ctx, `DELETE FROM lendings`); err != nil {
		return fmt.Errorf("delete lendings: %w", err)
	}
	return nil
}

func (s *LendingStore) toLending(ctx context.Context, row lendingRow) (*lending.Lending, error) {
	var authors []catalog.Author
	err := s.store.db.SelectContext(ctx, &authors, `
		SELECT a.id, a.name
		FROM authors a
		JOIN book_authors ba ON ba.author_id = a.id
		WHERE ba.book_isbn = $1
		ORDER BY ba.position ASC
	`, row.BookISBN)
	if err != nil {
		return nil, fmt.Errorf("load authors: %w", err)
	}

	return &lending.Lending{
		ID: row.ID,
		Book: &catalog.Book{
			ISBN:     row.BookISBN,
			Title:    row.BookTitle,
			Authors:  authors,
			Quantity: row.BookQuantity,
		},
		User: &users.User{
			ID:    row.UserID,
			Name:  row.UserName,
			Email: row.UserEmail,
		},
		LendingDate: row.LendingDate,
		ReturnDate:  row.ReturnDate,
	}, nil
}
