package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	salt TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS books (
	isbn VARCHAR(13) PRIMARY KEY,
	title TEXT NOT NULL,
	quantity INT NOT NULL CHECK (quantity >= 0),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS authors (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS book_authors (
	book_isbn VARCHAR(13) NOT NULL REFERENCES books(isbn) ON DELETE CASCADE,
	author_id BIGINT NOT NULL REFERENCES authors(id),
	position INT NOT NULL DEFAULT 0,
	PRIMARY KEY (book_isbn, author_id)
);

CREATE TABLE IF NOT EXISTS lendings (
	id BIGSERIAL PRIMARY KEY,
	book_isbn VARCHAR(13) NOT NULL REFERENCES books(isbn),
	user_id BIGINT NOT NULL REFERENCES users(id),
	lending_date TIMESTAMPTZ NOT NULL,
	return_date TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_lendings_user ON lendings (user_id);

CREATE TABLE IF NOT EXISTS lending_events (
	id BIGSERIAL PRIMARY KEY,
	event_id UUID NOT NULL UNIQUE,
	lending_id BIGINT NOT NULL,
	event_type TEXT NOT NULL,
	event_data JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// EnsureSchema creates the tables if they do not exist. Development and test
// convenience; production deployments manage the schema themselves.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
