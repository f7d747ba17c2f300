package monitor

import (
	"github.com/bryan-buckman/instarelay/internal/model"
	"github.com/bryan-buckman/instarelay/internal/watermark"
)

// Detector decides which fetched items have not been relayed yet.
// It holds no state of its own.
type Detector struct {
	marks *watermark.Store
}

// NewDetector creates a detector over the watermark store.
func NewDetector(marks *watermark.Store) *Detector {
	return &Detector{marks: marks}
}

// LatestPost returns the newest post if it is new. Older posts in the list
// are never considered; posts published between two cycles are skipped.
func (d *Detector) LatestPost(username string, posts []model.ContentItem) (model.ContentItem, bool) {
	if len(posts) == 0 {
		return model.ContentItem{}, false
	}
	latest := posts[0]
	if !d.marks.IsNewPost(username, latest.ID) {
		return model.ContentItem{}, false
	}
	return latest, true
}

// IsNewStory reports whether story has not been relayed for username.
func (d *Detector) IsNewStory(username string, story model.ContentItem) bool {
	return d.marks.IsNewStory(username, story.ID)
}
