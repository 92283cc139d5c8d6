package users

import "context"

// Service defines the interface for the account service. The lending
// workflow depends only on FindUserByID.
type Service interface {
	Register(ctx context.Context, name, email, password string) (*User, error)
	FindUserByID(ctx context.Context, id int64) (*User, error)
}
