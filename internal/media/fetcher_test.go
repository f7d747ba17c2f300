package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/img/photo.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			w.Write([]byte("jpegdata"))
		case "/big":
			w.Header().Set("Content-Type", "video/mp4")
			w.Write([]byte(strings.Repeat("x", 64)))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(5*time.Second, 32)
	ctx := context.Background()

	file, err := f.Fetch(ctx, srv.URL+"/img/photo.jpg?sig=abc")
	require.NoError(t, err)
	require.Equal(t, "photo.jpg", file.Name)
	require.Equal(t, "image/jpeg", file.ContentType)
	require.Equal(t, []byte("jpegdata"), file.Data)

	_, err = f.Fetch(ctx, srv.URL+"/missing")
	require.ErrorContains(t, err, "404")

	_, err = f.Fetch(ctx, srv.URL+"/big")
	require.ErrorContains(t, err, "exceeds limit")
}

func TestFileNameFallsBackToContentType(t *testing.T) {
	require.Equal(t, "clip.mp4", fileName("https://cdn.example.com/v/clip.mp4", "video/mp4"))
	require.Equal(t, "media.bin", fileName("https://cdn.example.com/", "application/x-unknown-thing"))
	name := fileName("https://cdn.example.com/v/stream", "image/png")
	require.Equal(t, "media.png", name)
}
