// Package relay delivers one content item to one channel, degrading to
// plainer messages when media delivery fails.
//
// Delivery order: album for carousels, then video, then photo, then text.
// A failed media send is not retried as media; it becomes a text message
// that links the media instead. Only a failing text send is returned.
package relay

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/bryan-buckman/instarelay/internal/logging"
	"github.com/bryan-buckman/instarelay/internal/media"
	"github.com/bryan-buckman/instarelay/internal/model"
	"github.com/bryan-buckman/instarelay/internal/sink"
	"github.com/sirupsen/logrus"
)

// Fallback reasons reported to the Recorder.
const (
	FallbackAlbum      = "album"
	FallbackEmptyAlbum = "empty_album"
	FallbackVideo      = "video"
	FallbackPhoto      = "photo"
)

// Recorder observes fallbacks. monitor.Metrics implements it.
type Recorder interface {
	Fallback(reason string)
}

type nopRecorder struct{}

func (nopRecorder) Fallback(string) {}

// Config configures a Pipeline.
type Config struct {
	Sink sink.Sink

	// Fetcher downloads album entries before the album is sent so a broken
	// entry can be dropped on its own.
	Fetcher  media.Fetcher
	Logger   logging.Logger
	Recorder Recorder
}

// Pipeline turns content items into sink calls.
type Pipeline struct {
	sink     sink.Sink
	fetcher  media.Fetcher
	logger   logging.Logger
	recorder Recorder
}

// New creates a pipeline.
func New(cfg Config) *Pipeline {
	p := &Pipeline{
		sink:     cfg.Sink,
		fetcher:  cfg.Fetcher,
		logger:   cfg.Logger,
		recorder: cfg.Recorder,
	}
	if p.logger == nil {
		p.logger = logging.Discard()
	}
	if p.recorder == nil {
		p.recorder = nopRecorder{}
	}
	return p
}

// PostCaption builds the message text for a post.
func PostCaption(username string, item model.ContentItem) string {
	var b strings.Builder
	b.WriteString("New post from @")
	b.WriteString(username)
	b.WriteString("\n\n")
	if item.Caption != "" {
		b.WriteString(item.Caption)
		b.WriteString("\n\n")
	}
	b.WriteString(item.URL)
	return b.String()
}

// StoryCaption builds the message text for a story. Stories carry no caption.
func StoryCaption(username string, item model.ContentItem) string {
	return "New story from @" + username + "\n\n" + item.URL
}

// Caption picks the caption builder for the item's kind.
func Caption(username string, item model.ContentItem) string {
	if item.Kind == model.KindStory {
		return StoryCaption(username, item)
	}
	return PostCaption(username, item)
}

// FitCaption builds the item's message text in at most limit characters.
// Only the post caption body is shortened; the header and the link are kept.
func FitCaption(username string, item model.ContentItem, limit int) string {
	full := Caption(username, item)
	size := utf8.RuneCountInString(full)
	if item.Kind == model.KindStory || size <= limit {
		return full
	}
	room := limit - (size - utf8.RuneCountInString(item.Caption))
	if room <= 1 {
		item.Caption = ""
	} else {
		item.Caption = shorten(item.Caption, room)
	}
	return PostCaption(username, item)
}

// shorten cuts s to at most limit runes, ending in an ellipsis.
func shorten(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return strings.TrimRightFunc(string(runes[:limit-1]), unicode.IsSpace) + "…"
}

// fallbackText is the text sent when media delivery failed.
func fallbackText(username string, item model.ContentItem, label string) string {
	return FitCaption(username, item, sink.MaxTextLength-utf8.RuneCountInString(label)) + label
}

// Relay delivers item to channelID.
func (p *Pipeline) Relay(ctx context.Context, channelID, username string, item model.ContentItem) error {
	caption := FitCaption(username, item, sink.MaxCaptionLength)
	text := FitCaption(username, item, sink.MaxTextLength)
	log := p.logger.WithFields(logging.Fields{
		"username":   username,
		"channel_id": channelID,
		"item_id":    item.ID,
		"kind":       item.Kind,
	})

	if item.IsCarousel() {
		entries := p.albumEntries(ctx, item.Carousel, caption, log)
		if len(entries) == 0 {
			log.Warn("No album entry could be fetched, sending text")
			p.recorder.Fallback(FallbackEmptyAlbum)
			return p.sink.SendText(ctx, channelID, text)
		}
		err := p.sink.SendAlbum(ctx, channelID, entries)
		if err == nil {
			return nil
		}
		log.WithError(err).Warn("Failed to send album, sending text")
		p.recorder.Fallback(FallbackAlbum)
		return p.sink.SendText(ctx, channelID, text)
	}

	if item.Media.Kind == model.MediaVideo {
		if video, ok := item.Media.BestVideo(); ok {
			err := p.sink.SendVideo(ctx, channelID, video.URL, caption)
			if err == nil {
				return nil
			}
			log.WithError(err).Warn("Failed to send video, sending text")
			p.recorder.Fallback(FallbackVideo)
			return p.sink.SendText(ctx, channelID, fallbackText(username, item, "\n\nvideo: "+video.URL))
		}
	}

	if image, ok := item.Media.BestImage(); ok {
		err := p.sink.SendPhoto(ctx, channelID, image.URL, caption)
		if err == nil {
			return nil
		}
		log.WithError(err).Warn("Failed to send photo, sending text")
		p.recorder.Fallback(FallbackPhoto)
		return p.sink.SendText(ctx, channelID, fallbackText(username, item, "\n\nphoto: "+image.URL))
	}

	return p.sink.SendText(ctx, channelID, text)
}

// albumEntries types and downloads up to sink.MaxAlbumSize carousel entries.
// Entries without usable media or whose download fails are dropped. The
// caption goes on the first surviving entry.
func (p *Pipeline) albumEntries(ctx context.Context, carousel []model.Media, caption string, log *logrus.Entry) []sink.AlbumEntry {
	if len(carousel) > sink.MaxAlbumSize {
		carousel = carousel[:sink.MaxAlbumSize]
	}

	entries := make([]sink.AlbumEntry, 0, len(carousel))
	for i, m := range carousel {
		kind, url, ok := albumMedia(m)
		if !ok {
			log.WithField("index", i).Debug("Dropping album entry without media")
			continue
		}
		entry := sink.AlbumEntry{Type: kind, URL: url}
		if p.fetcher != nil {
			file, err := p.fetcher.Fetch(ctx, url)
			if err != nil {
				log.WithError(err).WithField("index", i).Warn("Dropping album entry")
				continue
			}
			entry.File = file
		}
		if len(entries) == 0 {
			entry.Caption = caption
		}
		entries = append(entries, entry)
	}
	return entries
}

// albumMedia picks the media type and URL for one carousel entry.
func albumMedia(m model.Media) (model.MediaKind, string, bool) {
	if m.Kind == model.MediaVideo {
		if v, ok := m.BestVideo(); ok {
			return model.MediaVideo, v.URL, true
		}
	}
	if img, ok := m.BestImage(); ok {
		return model.MediaImage, img.URL, true
	}
	if v, ok := m.BestVideo(); ok {
		return model.MediaVideo, v.URL, true
	}
	return model.MediaNone, "", false
}
