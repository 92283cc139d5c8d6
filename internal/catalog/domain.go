package catalog

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

var (
	ErrBookNotFound = errors.New("book not found")
	ErrBookExists   = errors.New("book already exists")
	ErrNotAvailable = errors.New("book is not available")
	ErrBookInUse    = errors.New("book has lending history")
	ErrInvalidBook  = errors.New("invalid book")
)

// Book is the inventory ledger for one title. Quantity counts the copies
// currently on the shelf; copies are fungible and not tracked individually.
type Book struct {
	ISBN      string    `json:"isbn" db:"isbn"`
	Title     string    `json:"title" db:"title"`
	Authors   []Author  `json:"authors"`
	Quantity  int       `json:"quantity" db:"quantity"`
	CreatedAt time.Time `json:"created_at,omitempty" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// Author is a named contributor. Books keep their authors in insertion order.
type Author struct {
	ID   int64  `json:"id,omitempty" db:"id"`
	Name string `json:"name" db:"name"`
}

// NormalizeISBN strips separator characters (dashes, spaces and anything else
// that is not a letter or digit) and upper-cases the check character. It is
// the single canonical form used for every comparison and storage key.
func NormalizeISBN(isbn string) string {
	var b strings.Builder
	for _, r := range isbn {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// NewBook builds a book with a normalized ISBN. Call Validate before
// persisting it.
func NewBook(isbn, title string, authors []Author, quantity int) *Book {
	return &Book{
		ISBN:     NormalizeISBN(isbn),
		Title:    title,
		Authors:  authors,
		Quantity: quantity,
	}
}

// Validate checks the creation invariants: a plausible ISBN, a non-empty
// title, at least one named author and at least one copy.
func (b *Book) Validate() error {
	if n := len(b.ISBN); n != 10 && n != 13 {
		return fmt.Errorf("%w: ISBN must have 10 or 13 significant characters", ErrInvalidBook)
	}
	if strings.TrimSpace(b.Title) == "" {
		return fmt.Errorf("%w: title must not be empty", ErrInvalidBook)
	}
	if len(b.Authors) == 0 {
		return fmt.Errorf("%w: authors must not be empty", ErrInvalidBook)
	}
	for _, a := range b.Authors {
		if strings.TrimSpace(a.Name) == "" {
			return fmt.Errorf("%w: author name must not be empty", ErrInvalidBook)
		}
	}
	if b.Quantity < 1 {
		return fmt.Errorf("%w: quantity must be at least 1", ErrInvalidBook)
	}
	return nil
}

// IsAvailable reports whether at least one copy is on the shelf.
func (b *Book) IsAvailable() bool {
	return b.Quantity > 0
}

// Borrow takes one copy off the shelf. It mutates only the in-memory book;
// the durable decrement happens at the store's commit boundary, which also
// serializes concurrent borrows of the same title.
func (b *Book) Borrow() error {
	if !b.IsAvailable() {
		return ErrNotAvailable
	}
	b.Quantity--
	return nil
}

// Return puts one copy back. No upper bound is enforced here; the workflow
// calls it exactly once per matching borrow.
func (b *Book) Return() {
	b.Quantity++
}
