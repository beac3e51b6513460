// Package history keeps a sqlite log of delivered notifications, used by
// the status api and to survive snapshot file rebuilds.
package history

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/go-pkgz/repeater/v2"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/osawatch/osawatch/pkg/domain"
)

//go:embed schema.sql
var schema string

// Store handles notification log database operations
type Store struct {
	db *sqlx.DB
}

// notificationSQL represents a notification row for SQL operations
type notificationSQL struct {
	ID     int64     `db:"id"`
	Title  string    `db:"title"`
	URL    string    `db:"url"`
	SentAt time.Time `db:"sent_at"`
}

// NewStore opens the notification log database and initializes its schema
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = "file:osawatch.db?cache=shared&mode=rwc"
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return nil, fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Add records delivered notifications, retrying on sqlite lock errors
func (s *Store) Add(ctx context.Context, items []domain.Item) error {
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))

	return retrier.Do(ctx, func() error {
		for _, item := range items {
			_, err := s.db.ExecContext(ctx,
				"INSERT INTO notifications (title, url, sent_at) VALUES (?, ?, datetime('now'))",
				item.Title, item.URL)
			if err != nil {
				if isLockError(err) {
					return err // repeater will retry this
				}
				return &criticalError{err: fmt.Errorf("insert notification: %w", err)}
			}
		}
		return nil
	})
}

// Recent returns the latest notifications, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []notificationSQL
	err := s.db.SelectContext(ctx, &rows,
		"SELECT id, title, url, sent_at FROM notifications ORDER BY sent_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("select notifications: %w", err)
	}

	res := make([]domain.Notification, 0, len(rows))
	for _, r := range rows {
		res = append(res, domain.Notification{ID: r.ID, Title: r.Title, URL: r.URL, SentAt: r.SentAt})
	}
	return res, nil
}

// Count returns the total number of recorded notifications
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM notifications"); err != nil {
		return 0, fmt.Errorf("count notifications: %w", err)
	}
	return count, nil
}

// criticalError wraps an error to signal repeater to stop retrying
type criticalError struct {
	err error
}

func (e *criticalError) Error() string {
	return e.err.Error()
}

// isLockError checks if an error is a SQLite lock/busy error
func isLockError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "SQLITE_BUSY") ||
		strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "database table is locked")
}
