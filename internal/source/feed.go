package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/bryan-buckman/instarelay/internal/model"
	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
)

// StoryLifetime is how long a story stays visible after it is taken.
const StoryLifetime = 24 * time.Hour

// FeedConfig configures a FeedSource.
type FeedConfig struct {
	BaseURL     string // e.g. https://rsshub.example.com
	PostsPath   string // path template containing {username}
	StoriesPath string // path template containing {username}
	Timeout     time.Duration
	UserAgent   string
}

// FeedSource reads account content from an RSS bridge that publishes one
// feed per account for posts and one for stories.
type FeedSource struct {
	cfg    FeedConfig
	parser *gofeed.Parser
	now    func() time.Time
}

// Ensure FeedSource implements Source interface.
var _ Source = (*FeedSource)(nil)

// NewFeedSource creates a feed-backed source.
func NewFeedSource(cfg FeedConfig) *FeedSource {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "instarelay/1.0"
	}
	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: cfg.Timeout}
	parser.UserAgent = cfg.UserAgent
	return &FeedSource{cfg: cfg, parser: parser, now: time.Now}
}

func (s *FeedSource) feedURL(template, username string) string {
	p := strings.ReplaceAll(template, "{username}", url.PathEscape(username))
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/" + strings.TrimLeft(p, "/")
}

func (s *FeedSource) fetch(ctx context.Context, op, template, username string) (*gofeed.Feed, error) {
	feed, err := s.parser.ParseURLWithContext(s.feedURL(template, username), ctx)
	if err != nil {
		var httpErr gofeed.HTTPError
		notFound := errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound
		return nil, &Error{Op: op, Username: username, NotFound: notFound, Err: err}
	}
	return feed, nil
}

// LatestPosts returns up to limit posts, newest first.
func (s *FeedSource) LatestPosts(ctx context.Context, username string, limit int) ([]model.ContentItem, error) {
	feed, err := s.fetch(ctx, "posts", s.cfg.PostsPath, username)
	if err != nil {
		return nil, err
	}

	posts := make([]model.ContentItem, 0, len(feed.Items))
	for _, item := range feed.Items {
		post, ok := convertItem(item, model.KindPost)
		if !ok {
			continue
		}
		posts = append(posts, post)
	}
	sort.SliceStable(posts, func(i, j int) bool { return posts[i].TakenAt.After(posts[j].TakenAt) })
	if limit > 0 && len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

// ActiveStories returns the stories that have not expired yet, in feed order.
func (s *FeedSource) ActiveStories(ctx context.Context, username string) ([]model.ContentItem, error) {
	feed, err := s.fetch(ctx, "stories", s.cfg.StoriesPath, username)
	if err != nil {
		return nil, err
	}

	now := s.now()
	stories := make([]model.ContentItem, 0, len(feed.Items))
	for _, item := range feed.Items {
		story, ok := convertItem(item, model.KindStory)
		if !ok {
			continue
		}
		story.Caption = ""
		story.Carousel = nil
		if story.URL == "" {
			story.URL = fmt.Sprintf("https://www.instagram.com/stories/%s/%s/", username, story.ID)
		}
		if !story.TakenAt.IsZero() {
			story.ExpiringAt = story.TakenAt.Add(StoryLifetime)
			if now.After(story.ExpiringAt) {
				continue
			}
		}
		stories = append(stories, story)
	}
	return stories, nil
}

// convertItem maps a feed entry to a content item. Entries without a usable
// id are skipped.
func convertItem(item *gofeed.Item, kind model.ContentKind) (model.ContentItem, bool) {
	id := item.GUID
	if id == "" {
		id = item.Link
	}
	if id == "" {
		return model.ContentItem{}, false
	}

	body := item.Content
	if body == "" {
		body = item.Description
	}

	c := model.ContentItem{
		Kind:    kind,
		ID:      id,
		URL:     item.Link,
		Caption: captionText(body, item.Title),
		Media:   model.Media{Kind: model.MediaNone},
	}
	if item.PublishedParsed != nil {
		c.TakenAt = *item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		c.TakenAt = *item.UpdatedParsed
	}

	var media mediaList
	media.fromHTML(body)
	for _, enc := range item.Enclosures {
		if enc != nil {
			media.add(enc.URL, enc.Type, "")
		}
	}
	media.fromExtensions(item.Extensions)
	if len(media.items) == 0 && item.Image != nil {
		media.add(item.Image.URL, "image", "")
	}

	if len(media.items) > 0 {
		c.Media = media.items[0]
	}
	if len(media.items) > 1 {
		c.Carousel = media.items
	}
	return c, true
}

// captionText strips markup from the item body, falling back to the title.
func captionText(body, title string) string {
	if strings.TrimSpace(body) == "" {
		return strings.TrimSpace(title)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return strings.TrimSpace(title)
	}
	doc.Find("img, video, script, style").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	lines := strings.Split(doc.Text(), "\n")
	kept := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			kept = append(kept, l)
		}
	}
	if len(kept) == 0 {
		return strings.TrimSpace(title)
	}
	return strings.Join(kept, "\n")
}

// mediaList collects media in document order, skipping repeated URLs.
type mediaList struct {
	items []model.Media
	seen  map[string]bool
}

func (m *mediaList) mark(u string) bool {
	if u == "" {
		return false
	}
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	if m.seen[u] {
		return false
	}
	m.seen[u] = true
	return true
}

// add records a media URL. typ is a MIME type or an RSS medium name.
func (m *mediaList) add(u, typ, poster string) {
	if !m.mark(u) {
		return
	}
	switch {
	case strings.HasPrefix(typ, "video"):
		media := model.Media{Kind: model.MediaVideo, Videos: []model.Candidate{{URL: u}}}
		if poster != "" && m.mark(poster) {
			media.Images = []model.Candidate{{URL: poster}}
		}
		m.items = append(m.items, media)
	case strings.HasPrefix(typ, "image"), typ == "":
		m.items = append(m.items, model.Media{Kind: model.MediaImage, Images: []model.Candidate{{URL: u}}})
	}
}

func (m *mediaList) fromHTML(body string) {
	if !strings.Contains(body, "<") {
		return
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return
	}
	doc.Find("img, video").Each(func(_ int, sel *goquery.Selection) {
		if goquery.NodeName(sel) == "img" {
			src, _ := sel.Attr("src")
			m.add(src, "image", "")
			return
		}
		src, ok := sel.Attr("src")
		if !ok || src == "" {
			src, _ = sel.Find("source").First().Attr("src")
		}
		poster, _ := sel.Attr("poster")
		m.add(src, "video", poster)
	})
}

func (m *mediaList) fromExtensions(exts ext.Extensions) {
	mediaExt, ok := exts["media"]
	if !ok {
		return
	}
	contents := mediaExt["content"]
	for _, group := range mediaExt["group"] {
		contents = append(contents, group.Children["content"]...)
	}
	for _, c := range contents {
		typ := c.Attrs["medium"]
		if typ == "" {
			typ = c.Attrs["type"]
		}
		m.add(c.Attrs["url"], typ, "")
	}
}
