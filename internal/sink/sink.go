// Package sink defines the outbound messaging surface content is relayed to.
package sink

import (
	"context"
	"fmt"

	"github.com/bryan-buckman/instarelay/internal/media"
	"github.com/bryan-buckman/instarelay/internal/model"
)

// Channel message limits. Lengths are in characters.
const (
	// MaxAlbumSize is the largest media group a channel accepts.
	MaxAlbumSize     = 10
	MaxTextLength    = 4096
	MaxCaptionLength = 1024
)

// AlbumEntry is one element of a media group. File is set when the media
// was downloaded ahead of sending; otherwise URL is passed through.
type AlbumEntry struct {
	Type    model.MediaKind
	URL     string
	Caption string
	File    *media.File
}

// Sink delivers messages to a channel.
type Sink interface {
	SendText(ctx context.Context, channelID, text string) error
	SendPhoto(ctx context.Context, channelID, url, caption string) error
	SendVideo(ctx context.Context, channelID, url, caption string) error
	SendAlbum(ctx context.Context, channelID string, entries []AlbumEntry) error
}

// Error wraps a failed delivery.
type Error struct {
	Op        string
	ChannelID string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("sink %s to %s: %v", e.Op, e.ChannelID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
