package lending

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"libris/internal/catalog"
)

// service implements the workflow engine. It is the only writer of lending
// records and the only authorized mutator of a book's quantity.
type service struct {
	store     Store
	catalog   BookCatalog
	directory UserDirectory
	tracer    trace.Tracer
	borrows   metric.Int64Counter
	returns   metric.Int64Counter
	conflicts metric.Int64Counter
}

// NewService creates a new lending workflow engine.
func NewService(store Store, books BookCatalog, directory UserDirectory) Service {
	meter := otel.Meter("libris/lending")
	borrows, _ := meter.Int64Counter("lending.borrows",
		metric.WithDescription("Completed borrow operations"))
	returns, _ := meter.Int64Counter("lending.returns",
		metric.WithDescription("Completed return operations"))
	conflicts, _ := meter.Int64Counter("lending.conflicts",
		metric.WithDescription("Borrows rejected because no copy was available"))

	return &service{
		store:     store,
		catalog:   books,
		directory: directory,
		tracer:    otel.Tracer("libris/lending"),
		borrows:   borrows,
		returns:   returns,
		conflicts: conflicts,
	}
}

// Borrow lends one copy of the book to the user and returns the created
// record. The in-memory decrement and validation are scratch state: nothing
// is durable until the store commits the decrement and the record together.
func (s *service) Borrow(ctx context.Context, userID int64, isbn string) (*Lending, error) {
	normalized := catalog.NormalizeISBN(isbn)
	ctx, span := s.tracer.Start(ctx, "lending.borrow",
		trace.WithAttributes(
			attribute.Int64("user.id", userID),
			attribute.String("book.isbn", normalized),
		),
	)
	defer span.End()

	user, err := s.directory.FindUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}

	book, err := s.catalog.FindBookByISBN(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("resolve book: %w", err)
	}

	if !book.IsAvailable() {
		s.conflicts.Add(ctx, 1)
		return nil, catalog.ErrNotAvailable
	}

	if err := book.Borrow(); err != nil {
		s.conflicts.Add(ctx, 1)
		return nil, err
	}

	rec := New(user, book, time.Now().UTC())
	if err := rec.Validate(); err != nil {
		// Nothing was persisted; the in-memory decrement dies with rec.
		return nil, err
	}

	created, err := s.store.CommitBorrow(ctx, rec)
	if err != nil {
		if errors.Is(err, catalog.ErrNotAvailable) {
			s.conflicts.Add(ctx, 1)
		}
		return nil, fmt.Errorf("commit borrow: %w", err)
	}

	s.borrows.Add(ctx, 1)
	span.SetAttributes(attribute.Int64("lending.id", created.ID))
	return created, nil
}

// Return closes the lending, puts the copy back on the shelf and returns the
// history-safe projection. Only the original borrower may return a lending.
func (s *service) Return(ctx context.Context, userID, lendingID int64) (*View, error) {
	ctx, span := s.tracer.Start(ctx, "lending.return",
		trace.WithAttributes(
			attribute.Int64("user.id", userID),
			attribute.Int64("lending.id", lendingID),
		),
	)
	defer span.End()

	user, err := s.directory.FindUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}

	rec, err := s.store.FindLendingByID(ctx, lendingID)
	if err != nil {
		return nil, fmt.Errorf("resolve lending: %w", err)
	}

	if !rec.Open() {
		return nil, ErrAlreadyReturned
	}
	if rec.User.ID != user.ID {
		return nil, ErrNotAuthorized
	}

	rec.Book.Return()
	rec.Close(time.Now().UTC())

	if err := s.store.CommitReturn(ctx, rec); err != nil {
		return nil, fmt.Errorf("commit return: %w", err)
	}

	s.returns.Add(ctx, 1)
	return Project(rec), nil
}

// History lists every lending of the user, open and closed, projected for
// external consumption.
func (s *service) History(ctx context.Context, userID int64) ([]*View, error) {
	ctx, span := s.tracer.Start(ctx, "lending.history",
		trace.WithAttributes(attribute.Int64("user.id", userID)),
	)
	defer span.End()

	user, err := s.directory.FindUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}

	recs, err := s.store.FindLendingsByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("load lendings: %w", err)
	}

	views := make([]*View, 0, len(recs))
	for _, rec := range recs {
		views = append(views, Project(rec))
	}

	span.SetAttributes(attribute.Int("lendings.found", len(views)))
	return views, nil
}

// ResetLedger wipes all lending records.
func (s *service) ResetLedger(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "lending.reset_ledger")
	defer span.End()

	return s.store.DeleteAllLendings(ctx)
}
