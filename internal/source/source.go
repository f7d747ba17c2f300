// Package source fetches posts and stories for monitored accounts.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/bryan-buckman/instarelay/internal/model"
)

// Source yields the latest content of an account, newest first for posts and
// in source order for stories.
type Source interface {
	LatestPosts(ctx context.Context, username string, limit int) ([]model.ContentItem, error)
	ActiveStories(ctx context.Context, username string) ([]model.ContentItem, error)
}

// Error is returned by Source implementations. NotFound marks a missing
// account or feed; callers treat it as "no stories" rather than a failure.
type Error struct {
	Op       string
	Username string
	NotFound bool
	Err      error
}

func (e *Error) Error() string {
	if e.NotFound {
		return fmt.Sprintf("source %s %s: not found: %v", e.Op, e.Username, e.Err)
	}
	return fmt.Sprintf("source %s %s: %v", e.Op, e.Username, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a not-found source error.
func IsNotFound(err error) bool {
	var srcErr *Error
	return errors.As(err, &srcErr) && srcErr.NotFound
}
