// Package audit keeps an append-only trail of lending events. Entries are
// written inside the same transaction as the state change they describe, so
// the trail never records an event for a commit that did not happen.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
)

const (
	EventBookBorrowed = "BookBorrowed"
	EventBookReturned = "BookReturned"
)

// BookBorrowed is recorded when a borrow commits.
type BookBorrowed struct {
	LendingID   int64  `json:"lending_id"`
	ISBN        string `json:"isbn"`
	UserID      int64  `json:"user_id"`
	LendingDate string `json:"lending_date"`
}

// BookReturned is recorded when a return commits.
type BookReturned struct {
	LendingID  int64  `json:"lending_id"`
	ISBN       string `json:"isbn"`
	UserID     int64  `json:"user_id"`
	ReturnDate string `json:"return_date"`
}

type entry struct {
	EventID   uuid.UUID
	LendingID int64
	EventType string
	EventData json.RawMessage
}

func newEntry(lendingID int64, eventType string, payload any) (entry, error) {
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(payload)
	if err != nil {
		return entry{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return entry{
		EventID:   uuid.New(),
		LendingID: lendingID,
		EventType: eventType,
		EventData: data,
	}, nil
}

// Record appends one event to the trail using the caller's transaction.
func Record(ctx context.Context, tx *sqlx.Tx, lendingID int64, eventType string, payload any) error {
	e, err := newEntry(lendingID, eventType, payload)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO lending_events (event_id, lending_id, event_type, event_data)
		VALUES ($1, $2, $3, $4)
	`, e.EventID, e.LendingID, e.EventType, string(e.EventData))
	if err != nil {
		return fmt.Errorf("append %s event: %w", eventType, err)
	}
	return nil
}
