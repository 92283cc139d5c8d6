package lending

import (
	"context"

	"libris/internal/catalog"
	"libris/internal/users"
)

// Service is the lending workflow engine.
type Service interface {
	Borrow(ctx context.Context, userID int64, isbn string) (*Lending, error)
	Return(ctx context.Context, userID, lendingID int64) (*View, error)
	History(ctx context.Context, userID int64) ([]*View, error)
	// ResetLedger deletes every lending record. Test and maintenance
	// tooling only, never part of the request flow.
	ResetLedger(ctx context.Context) error
}

// UserDirectory resolves user references for the workflow.
type UserDirectory interface {
	FindUserByID(ctx context.Context, id int64) (*users.User, error)
}

// BookCatalog resolves book references by exact, normalized ISBN.
type BookCatalog interface {
	FindBookByISBN(ctx context.Context, isbn string) (*catalog.Book, error)
}

// Store is the durable record store. Commit methods persist the quantity
// mutation and the record mutation as one atomic unit; no partial state is
// ever observable.
type Store interface {
	// CommitBorrow decrements the book's quantity and inserts the record
	// in a single transaction. It fails with catalog.ErrNotAvailable when
	// a concurrent borrow drained the last copy first.
	CommitBorrow(ctx context.Context, rec *Lending) (*Lending, error)
	// CommitReturn stamps the return date and increments the quantity in
	// a single transaction. It fails with ErrAlreadyReturned when the
	// record was closed concurrently.
	CommitReturn(ctx context.Context, rec *Lending) error
	FindLendingByID(ctx context.Context, id int64) (*Lending, error)
	FindLendingsByUser(ctx context.Context, userID int64) ([]*Lending, error)
	DeleteAllLendings(ctx context.Context) error
}
