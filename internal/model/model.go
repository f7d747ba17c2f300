// Package model defines shared data structures.
package model

import "time"

// Account is a monitored source account mapped to a destination channel.
type Account struct {
	Username  string    `json:"username"`
	ChannelID string    `json:"channel_id"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// ContentKind distinguishes posts from stories.
type ContentKind string

const (
	KindPost  ContentKind = "post"
	KindStory ContentKind = "story"
)

// MediaKind is the primary media type of an item or carousel entry.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
	MediaNone  MediaKind = "none"
)

// Candidate is one rendition of a media file, best first.
type Candidate struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// Media holds the renditions of a single image or video.
type Media struct {
	Kind   MediaKind   `json:"kind"`
	Images []Candidate `json:"images,omitempty"`
	Videos []Candidate `json:"videos,omitempty"`
}

// BestImage returns the first image candidate, if any.
func (m Media) BestImage() (Candidate, bool) {
	if len(m.Images) == 0 {
		return Candidate{}, false
	}
	return m.Images[0], true
}

// BestVideo returns the first video candidate, if any.
func (m Media) BestVideo() (Candidate, bool) {
	if len(m.Videos) == 0 {
		return Candidate{}, false
	}
	return m.Videos[0], true
}

// ContentItem is a post or a story fetched from the source.
// Caption and Carousel are only set for posts, ExpiringAt only for stories.
type ContentItem struct {
	Kind       ContentKind `json:"kind"`
	ID         string      `json:"id"`
	URL        string      `json:"url"`
	Caption    string      `json:"caption,omitempty"`
	Media      Media       `json:"media"`
	Carousel   []Media     `json:"carousel,omitempty"`
	TakenAt    time.Time   `json:"taken_at"`
	ExpiringAt time.Time   `json:"expiring_at,omitempty"`
}

// IsCarousel reports whether the item should be delivered as an album.
func (c ContentItem) IsCarousel() bool {
	return len(c.Carousel) > 1
}

// AccountStatus is the per-account part of CycleStatus.
type AccountStatus struct {
	Enabled        bool   `json:"enabled"`
	ChannelID      string `json:"channel_id"`
	LastPostID     string `json:"last_post_id"`
	SeenStoryCount int    `json:"seen_story_count"`
}

// CycleStatus summarizes the registry and watermark state.
type CycleStatus struct {
	TotalAccounts     int                      `json:"total_accounts"`
	EnabledAccounts   int                      `json:"enabled_accounts"`
	Accounts          map[string]AccountStatus `json:"accounts"`
	LastCycleStarted  time.Time                `json:"last_cycle_started,omitempty"`
	LastCycleFinished time.Time                `json:"last_cycle_finished,omitempty"`
}
