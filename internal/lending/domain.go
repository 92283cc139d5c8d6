package lending

import (
	"errors"
	"fmt"
	"time"

	"libris/internal/catalog"
	"libris/internal/users"
)

var (
	ErrLendingNotFound = errors.New("lending not found")
	ErrAlreadyReturned = errors.New("lending already returned")
	ErrNotAuthorized   = errors.New("only the original borrower may return a lending")
	ErrInvalidLending  = errors.New("invalid lending")
)

// Lending is one borrow-to-return cycle for a single copy of a book. A nil
// ReturnDate means the lending is open; once the return date is stamped the
// record is closed and immutable except for historical reads.
type Lending struct {
	ID          int64         `json:"id"`
	Book        *catalog.Book `json:"book"`
	User        *users.User   `json:"user"`
	LendingDate time.Time     `json:"lending_date"`
	ReturnDate  *time.Time    `json:"return_date,omitempty"`
}

// New constructs an open lending record. The caller has already resolved
// both references; construction never checks referential existence.
func New(user *users.User, book *catalog.Book, lendingDate time.Time) *Lending {
	return &Lending{
		Book:        book,
		User:        user,
		LendingDate: lendingDate,
	}
}

// Open reports whether the lending has not been returned yet.
func (l *Lending) Open() bool {
	return l.ReturnDate == nil
}

// Close stamps the return date. Callers must only invoke it on an open
// record; the workflow checks the state before closing.
func (l *Lending) Close(now time.Time) {
	returnDate := now
	l.ReturnDate = &returnDate
}

// Validate checks that both references are present, the lending date is a
// real timestamp, and the return date, if stamped, is one too.
func (l *Lending) Validate() error {
	if l.Book == nil {
		return fmt.Errorf("%w: book reference is missing", ErrInvalidLending)
	}
	if l.User == nil {
		return fmt.Errorf("%w: user reference is missing", ErrInvalidLending)
	}
	if l.LendingDate.IsZero() {
		return fmt.Errorf("%w: lending date must be a valid date", ErrInvalidLending)
	}
	if l.ReturnDate != nil && l.ReturnDate.IsZero() {
		return fmt.Errorf("%w: return date must be a valid date", ErrInvalidLending)
	}
	return nil
}
