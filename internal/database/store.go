// Package database provides storage backends for accounts and watermarks.
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bryan-buckman/instarelay/internal/model"
)

// ErrNotFound is returned when a requested account does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the interface for database operations.
// SQLite, PostgreSQL and Redis implementations satisfy this interface.
type Store interface {
	Close() error

	// DatabaseType returns the name of the backend ("SQLite", "PostgreSQL" or "Redis").
	DatabaseType() string

	// Account operations
	GetAccounts(ctx context.Context) ([]model.Account, error)
	GetAccount(ctx context.Context, username string) (*model.Account, error)
	UpsertAccount(ctx context.Context, account model.Account) error
	DeleteAccount(ctx context.Context, username string) (bool, error)
	SetAccountEnabled(ctx context.Context, username string, enabled bool) (bool, error)

	// Watermark documents. Each save is a single durable write.
	LoadLastPosts(ctx context.Context) (map[string]string, error)
	SaveLastPost(ctx context.Context, username, postID string) error
	LoadLastStories(ctx context.Context) (map[string][]string, error)
	SaveLastStories(ctx context.Context, username string, storyIDs []string) error
}

func encodeStoryIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("encode story ids: %w", err)
	}
	return string(b), nil
}

func decodeStoryIDs(raw string) ([]string, error) {
	var ids []string
	if raw == "" {
		return ids, nil
	}
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("decode story ids: %w", err)
	}
	return ids, nil
}
