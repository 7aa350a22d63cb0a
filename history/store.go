// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // database/sql driver

	"mellium.im/unison/stanza"
)

// ErrNotFound is returned when no message with the requested id was recorded.
var ErrNotFound = errors.New("history: message not found")

// Status is the delivery status of a sent message.
// Statuses only ever advance.
type Status uint8

// A list of delivery statuses.
const (
	Pending Status = iota
	Delivered
	Read
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Delivered:
		return "delivered"
	case Read:
		return "read"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Entry is a recorded message.
type Entry struct {
	ID            string
	ChatHistoryID string
	To            string
	Body          string
	Sent          time.Time
	Status        Status
	Updated       time.Time
}

// FromMessage returns an entry for a message that is about to be sent.
func FromMessage(m stanza.Message, sent time.Time) Entry {
	return Entry{
		ID:            m.ID,
		ChatHistoryID: m.ChatHistoryID,
		To:            m.To,
		Body:          m.Body,
		Sent:          sent,
	}
}

// Store is a delivery log backed by SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path.
// The special path ":memory:" creates a private in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("history: failed to open database: %w", err)
	}
	// Every connection to an in-memory database is a different database, and
	// SQLite only allows one writer anyways.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		/* #nosec */
		db.Close()
		return nil, fmt.Errorf("history: failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			chat_history_id TEXT NOT NULL DEFAULT '',
			recipient TEXT NOT NULL,
			body TEXT NOT NULL,
			sent INTEGER NOT NULL,
			status INTEGER NOT NULL DEFAULT 0,
			updated INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_history ON messages(chat_history_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_status ON messages(status, sent)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// RecordSent stores e as a pending message.
// Recording the same id again replaces the earlier entry.
func (s *Store) RecordSent(ctx context.Context, e Entry) error {
	if e.ID == "" {
		return errors.New("history: cannot record a message without an id")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO messages (id, chat_history_id, recipient, body, sent, status, updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.ChatHistoryID, e.To, e.Body, e.Sent.UnixMilli(), Pending, e.Sent.UnixMilli())
	return err
}

// MarkDelivered records a receipt for the message with the given id.
// A read receipt marks it as read, any other receipt as delivered; a message
// that was already read is never moved back to delivered.
func (s *Store) MarkDelivered(ctx context.Context, id string, read bool) error {
	status := Delivered
	if read {
		status = Read
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET status = MAX(status, ?), updated = ? WHERE id = ?
	`, status, s.now().UnixMilli(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return nil
}

const selectEntry = `SELECT id, chat_history_id, recipient, body, sent, status, updated FROM messages`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e             Entry
		sent, updated int64
	)
	err := row.Scan(&e.ID, &e.ChatHistoryID, &e.To, &e.Body, &sent, &e.Status, &updated)
	if err != nil {
		return Entry{}, err
	}
	e.Sent = time.UnixMilli(sent).UTC()
	e.Updated = time.UnixMilli(updated).UTC()
	return e, nil
}

// Lookup returns the message with the given id.
func (s *Store) Lookup(ctx context.Context, id string) (Entry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx, selectEntry+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return e, err
}

// Undelivered returns the messages for which no receipt has been received, in
// the order they were sent.
func (s *Store) Undelivered(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectEntry+` WHERE status = ? ORDER BY sent, id`, Pending)
	if err != nil {
		return nil, err
	}
	/* #nosec */
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
