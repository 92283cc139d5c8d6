package catalog

import "context"

// Service defines the interface for the catalog service.
type Service interface {
	AddBook(ctx context.Context, book *Book) (*Book, error)
	FindBookByISBN(ctx context.Context, isbn string) (*Book, error)
	Search(ctx context.Context, query string) ([]*Book, error)
	RemoveBook(ctx context.Context, isbn string) error
}
