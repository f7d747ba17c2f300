package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bryan-buckman/instarelay/internal/model"
	"github.com/stretchr/testify/require"
)

const postsFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:media="http://search.yahoo.com/mrss/">
<channel>
  <title>alice posts</title>
  <item>
    <title>older</title>
    <guid>p1</guid>
    <link>https://www.instagram.com/p/p1/</link>
    <pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate>
    <description><![CDATA[First line<br>second line<img src="https://cdn.example.com/p1.jpg">]]></description>
  </item>
  <item>
    <title>carousel</title>
    <guid>p2</guid>
    <link>https://www.instagram.com/p/p2/</link>
    <pubDate>Tue, 03 Jan 2006 15:04:05 GMT</pubDate>
    <description><![CDATA[Two things <img src="https://cdn.example.com/a.jpg"><video src="https://cdn.example.com/b.mp4" poster="https://cdn.example.com/b.jpg"></video>]]></description>
  </item>
  <item>
    <title>just text</title>
    <link>https://www.instagram.com/p/p3/</link>
    <pubDate>Wed, 04 Jan 2006 15:04:05 GMT</pubDate>
    <media:content url="https://cdn.example.com/p3.mp4" medium="video" />
  </item>
</channel>
</rss>`

func storiesFeed(recent, old time.Time) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>alice stories</title>
  <item>
    <guid>s-old</guid>
    <pubDate>%s</pubDate>
    <enclosure url="https://cdn.example.com/old.jpg" type="image/jpeg" length="1" />
  </item>
  <item>
    <guid>s1</guid>
    <pubDate>%s</pubDate>
    <enclosure url="https://cdn.example.com/s1.mp4" type="video/mp4" length="1" />
  </item>
</channel>
</rss>`, old.Format(time.RFC1123Z), recent.Format(time.RFC1123Z))
}

func newTestSource(t *testing.T, handler http.HandlerFunc) *FeedSource {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewFeedSource(FeedConfig{
		BaseURL:     srv.URL,
		PostsPath:   "/instagram/user/{username}",
		StoriesPath: "/instagram/stories/{username}",
		Timeout:     5 * time.Second,
	})
}

func TestLatestPosts(t *testing.T) {
	var gotPath string
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(postsFeed))
	})

	posts, err := src.LatestPosts(context.Background(), "alice", 2)
	require.NoError(t, err)
	require.Equal(t, "/instagram/user/alice", gotPath)
	require.Len(t, posts, 2)

	// Newest first; the entry without a guid is keyed by its link.
	require.Equal(t, "https://www.instagram.com/p/p3/", posts[0].ID)
	require.Equal(t, model.MediaVideo, posts[0].Media.Kind)
	require.Equal(t, "just text", posts[0].Caption)

	carousel := posts[1]
	require.Equal(t, "p2", carousel.ID)
	require.True(t, carousel.IsCarousel())
	require.Len(t, carousel.Carousel, 2)
	require.Equal(t, model.MediaImage, carousel.Carousel[0].Kind)
	require.Equal(t, model.MediaVideo, carousel.Carousel[1].Kind)
	video, ok := carousel.Carousel[1].BestVideo()
	require.True(t, ok)
	require.Equal(t, "https://cdn.example.com/b.mp4", video.URL)
	poster, ok := carousel.Carousel[1].BestImage()
	require.True(t, ok)
	require.Equal(t, "https://cdn.example.com/b.jpg", poster.URL)
	require.Equal(t, "Two things", carousel.Caption)
}

func TestLatestPostsCaptionKeepsLineBreaks(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(postsFeed))
	})

	posts, err := src.LatestPosts(context.Background(), "alice", 0)
	require.NoError(t, err)
	require.Len(t, posts, 3)
	last := posts[2]
	require.Equal(t, "p1", last.ID)
	require.Equal(t, "First line\nsecond line", last.Caption)
	require.False(t, last.IsCarousel())
	img, ok := last.Media.BestImage()
	require.True(t, ok)
	require.Equal(t, "https://cdn.example.com/p1.jpg", img.URL)
}

func TestActiveStories(t *testing.T) {
	now := time.Now()
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(storiesFeed(now.Add(-time.Hour), now.Add(-48*time.Hour))))
	})
	src.now = func() time.Time { return now }

	stories, err := src.ActiveStories(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, stories, 1)
	require.Equal(t, "s1", stories[0].ID)
	require.Equal(t, model.KindStory, stories[0].Kind)
	require.Equal(t, model.MediaVideo, stories[0].Media.Kind)
	require.Equal(t, "https://www.instagram.com/stories/alice/s1/", stories[0].URL)
	require.WithinDuration(t, now.Add(23*time.Hour), stories[0].ExpiringAt, 2*time.Second)
}

func TestNotFound(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := src.ActiveStories(context.Background(), "ghost")
	require.Error(t, err)
	require.True(t, IsNotFound(err))
	require.Contains(t, err.Error(), "ghost")
}

func TestServerErrorIsNotNotFound(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := src.LatestPosts(context.Background(), "alice", 5)
	require.Error(t, err)
	require.False(t, IsNotFound(err))
}
