package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var dialect = goqu.Dialect("postgres")

// service implements the Service interface on top of Postgres.
type service struct {
	db     *sqlx.DB
	tracer trace.Tracer
}

// NewService creates a new catalog service instance.
func NewService(db *sqlx.DB) Service {
	return &service{
		db:     db,
		tracer: otel.Tracer("libris/catalog"),
	}
}

// AddBook creates a new book together with its authors. Authors are shared
// across books and upserted by name, preserving the order they were given in.
func (s *service) AddBook(ctx context.Context, book *Book) (*Book, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.add_book",
		trace.WithAttributes(attribute.String("book.isbn", book.ISBN)),
	)
	defer span.End()

	book.ISBN = NormalizeISBN(book.ISBN)
	if err := book.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO books (isbn, title, quantity)
		VALUES ($1, $2, $3)
	`, book.ISBN, book.Title, book.Quantity)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, ErrBookExists
		}
		return nil, fmt.Errorf("insert book: %w", err)
	}

	for i := range book.Authors {
		author := &book.Authors[i]
		err = tx.QueryRowContext(ctx, `
			INSERT INTO authors (name)
			VALUES ($1)
			ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			RETURNING id
		`, author.Name).Scan(&author.ID)
		if err != nil {
			return nil, fmt.Errorf("upsert author %q: %w", author.Name, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO book_authors (book_isbn, author_id, position)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING
		`, book.ISBN, author.ID, i)
		if err != nil {
			return nil, fmt.Errorf("link author %q: %w", author.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return book, nil
}

// FindBookByISBN retrieves a book by its canonical ISBN. The given ISBN is
// normalized before the lookup, so separators in the input are irrelevant.
func (s *service) FindBookByISBN(ctx context.Context, isbn string) (*Book, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.find_book")
	defer span.End()

	normalized := NormalizeISBN(isbn)
	span.SetAttributes(attribute.String("book.isbn", normalized))

	book := &Book{}
	err := s.db.GetContext(ctx, book, `
		SELECT isbn, title, quantity, created_at, updated_at
		FROM books
		WHERE isbn = $1
	`, normalized)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("get book: %w", err)
	}

	if book.Authors, err = s.loadAuthors(ctx, book.ISBN); err != nil {
		return nil, err
	}

	return book, nil
}

// Search finds books whose title or author contains the query as a substring,
// or whose ISBN matches it exactly. Results come back in title order; there
// is no relevance ranking.
func (s *service) Search(ctx context.Context, query string) ([]*Book, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.search")
	defer span.End()

	pattern := "%" + query + "%"
	byAuthor := dialect.From(goqu.T("book_authors").As("ba")).
		Join(goqu.T("authors").As("a"), goqu.On(goqu.I("a.id").Eq(goqu.I("ba.author_id")))).
		Where(
			goqu.I("ba.book_isbn").Eq(goqu.I("b.isbn")),
			goqu.I("a.name").ILike(pattern),
		).
		Select(goqu.L("1"))

	sqlQuery, args, err := dialect.From(goqu.T("books").As("b")).
		Select("b.isbn", "b.title", "b.quantity", "b.created_at", "b.updated_at").
		Where(goqu.Or(
			goqu.I("b.title").ILike(pattern),
			goqu.I("b.isbn").Eq(NormalizeISBN(query)),
			goqu.L("EXISTS ?", byAuthor),
		)).
		Order(goqu.I("b.title").Asc()).
		Limit(20).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build search query: %w", err)
	}

	var books []*Book
	if err := s.db.SelectContext(ctx, &books, sqlQuery, args...); err != nil {
		return nil, fmt.Errorf("search books: %w", err)
	}

	for _, book := range books {
		if book.Authors, err = s.loadAuthors(ctx, book.ISBN); err != nil {
			return nil, err
		}
	}

	span.SetAttributes(attribute.Int("books.found", len(books)))
	return books, nil
}

// RemoveBook deletes a book from the catalog. Lending records referencing it
// are kept; only the lending workflow mutates quantity, never this method.
func (s *service) RemoveBook(ctx context.Context, isbn string) error {
	ctx, span := s.tracer.Start(ctx, "catalog.remove_book")
	defer span.End()

	res, err := s.db.ExecContext(ctx, `DELETE FROM books WHERE isbn = $1`, NormalizeISBN(isbn))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return ErrBookInUse
		}
		return fmt.Errorf("delete book: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	if n == 0 {
		return ErrBookNotFound
	}
	return nil
}

func (s *service) loadAuthors(ctx context.Context, isbn string) ([]Author, error) {
	var authors []Author
	err := s.db.SelectContext(ctx, &authors, `
		SELECT a.id, a.name
		FROM authors a
		JOIN book_authors ba ON ba.author_id = a.id
		WHERE ba.book_isbn = $1
		ORDER BY ba.position ASC
	`, isbn)
	if err != nil {
		return nil, fmt.Errorf("load authors: %w", err)
	}
	return authors, nil
}
