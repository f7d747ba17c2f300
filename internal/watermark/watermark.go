// Package watermark tracks which posts and stories have already been relayed.
//
// Posts keep a single last-seen id per account. Stories keep a bounded
// seen-set: once an insertion would push it past MaxSeenStories entries it is
// cut back to the newest RetainSeenStories. Ids dropped by the cut become
// "new" again, so a very old story can be relayed twice after enough churn.
//
// Every mark is written to the backend before the in-memory copy changes, and
// a failed write leaves the in-memory copy untouched.
package watermark

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/bryan-buckman/instarelay/internal/logging"
)

const (
	// MaxSeenStories is the largest seen-set kept per account.
	MaxSeenStories = 50
	// RetainSeenStories is how many of the newest ids survive an overflow.
	RetainSeenStories = 25
)

// Backend persists the two watermark documents.
type Backend interface {
	LoadLastPosts(ctx context.Context) (map[string]string, error)
	SaveLastPost(ctx context.Context, username, postID string) error
	LoadLastStories(ctx context.Context) (map[string][]string, error)
	SaveLastStories(ctx context.Context, username string, storyIDs []string) error
}

// StoreError reports a failed watermark write.
type StoreError struct {
	Op       string
	Username string
	Err      error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("watermark %s for %s: %v", e.Op, e.Username, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Store is the watermark cache in front of a Backend. It is safe for
// concurrent use; one mutex serializes every read-modify-write.
type Store struct {
	backend Backend
	logger  logging.Logger

	mu        sync.Mutex
	lastPosts map[string]string
	stories   map[string][]string
}

// Open loads both documents from the backend. A document that cannot be read
// is logged and treated as empty.
func Open(ctx context.Context, backend Backend, logger logging.Logger) *Store {
	s := &Store{
		backend:   backend,
		logger:    logger,
		lastPosts: make(map[string]string),
		stories:   make(map[string][]string),
	}

	posts, err := backend.LoadLastPosts(ctx)
	if err != nil {
		logger.WithError(err).Warn("Failed to load last posts, starting empty")
	} else if posts != nil {
		s.lastPosts = posts
	}

	stories, err := backend.LoadLastStories(ctx)
	if err != nil {
		logger.WithError(err).Warn("Failed to load seen stories, starting empty")
	} else if stories != nil {
		s.stories = stories
	}

	return s
}

// IsNewPost reports whether postID differs from the last relayed post.
func (s *Store) IsNewPost(username, postID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastPosts[username]
	return !ok || last != postID
}

// MarkPostSeen records postID as the last relayed post.
func (s *Store) MarkPostSeen(ctx context.Context, username, postID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.lastPosts[username]; ok && last == postID {
		return nil
	}
	if err := s.backend.SaveLastPost(ctx, username, postID); err != nil {
		return &StoreError{Op: "mark post", Username: username, Err: err}
	}
	s.lastPosts[username] = postID
	return nil
}

// IsNewStory reports whether storyID is absent from the seen-set.
func (s *Store) IsNewStory(username, storyID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !slices.Contains(s.stories[username], storyID)
}

// MarkStorySeen appends storyID to the seen-set, applying the overflow cut.
// Marking an id that is already present changes nothing.
func (s *Store) MarkStorySeen(ctx context.Context, username, storyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.stories[username]
	if slices.Contains(current, storyID) {
		return nil
	}
	next := appendSeen(current, storyID)
	if err := s.backend.SaveLastStories(ctx, username, next); err != nil {
		return &StoreError{Op: "mark story", Username: username, Err: err}
	}
	s.stories[username] = next
	return nil
}

// Snapshot returns the watermark summary for one account.
func (s *Store) Snapshot(username string) (lastPostID string, seenStories int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPosts[username], len(s.stories[username])
}

// SeenStories returns a copy of the seen-set, oldest first.
func (s *Store) SeenStories(username string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.stories[username])
}

// appendSeen never mutates ids so a failed write cannot leak into the cache.
func appendSeen(ids []string, id string) []string {
	next := make([]string, 0, len(ids)+1)
	next = append(next, ids...)
	next = append(next, id)
	if len(next) > MaxSeenStories {
		next = slices.Clone(next[len(next)-RetainSeenStories:])
	}
	return next
}
