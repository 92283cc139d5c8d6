package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Connect opens a Postgres connection and waits for the database to come up.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.Ping(); err == nil {
			return db, nil
		}
		log.Printf("Database not ready, retrying in 2 seconds... (%d/10)", i+1)
		time.Sleep(2 * time.Second)
	}

	db.Close()
	return nil, fmt.Errorf("ping database: %w", err)
}

// Store wraps the database handle and provides the atomic multi-entity
// commit primitive the lending workflow relies on.
type Store struct {
	db     *sqlx.DB
	tracer trace.Tracer
}

// New creates a store around an open connection.
func New(db *sqlx.DB) *Store {
	return &Store{
		db:     db,
		tracer: otel.Tracer("libris/storage"),
	}
}

// DB exposes the underlying handle for read-only collaborators.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// RunInTransaction executes fn inside a single read-committed transaction.
// Either every statement in fn commits or none does; a failed fn leaves no
// trace.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	ctx, span := s.tracer.Start(ctx, "storage.transaction")
	defer span.End()

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		span.RecordError(err)
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
