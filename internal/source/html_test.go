package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const listingPage = `<!DOCTYPE html>
<html>
<body>
<ul>
  <li class="videoBox">
    <a href="/video/1" title="First clip">
      <img data-src="https://cdn.example.com/thumb1.jpg" src="placeholder.gif">
    </a>
    <span class="duration">10:23</span>
    <span class="uploader"><a href="/user/alice">alice</a></span>
  </li>
  <li class="videoBox sponsor">
    <a href="/ads/landing" title="Buy stuff now"></a>
  </li>
  <li class="videoBox">
    <a href="/video/2">
      <img src="https://cdn.example.com/thumb2.jpg">
    </a>
    <div class="video-title">Second clip</div>
    <span class="duration">3:45</span>
  </li>
  <li class="videoBox" data-ad>
    <a href="/ads/other" title="Sponsored"></a>
  </li>
  <li class="videoBox">
    <span>no link in this entry</span>
  </li>
</ul>
</body>
</html>`

func TestHTMLSource_Items(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Write([]byte(listingPage))
	}))
	defer srv.Close()

	src := NewHTMLSource(zap.NewNop())
	items, err := src.Items(context.Background(), srv.URL+"/category/clips")
	require.NoError(t, err)

	// Advertisements and entries without a link are excluded.
	require.Len(t, items, 2)

	first := items[0]
	require.Equal(t, srv.URL+"/video/1", first.Ref)
	require.Equal(t, "First clip", first.Title)
	require.Equal(t, "https://cdn.example.com/thumb1.jpg", first.Thumbnail)
	require.Equal(t, "10:23", first.Duration)
	require.Equal(t, "alice", first.Uploader)

	second := items[1]
	require.Equal(t, srv.URL+"/video/2", second.Ref)
	require.Equal(t, "Second clip", second.Title)
	require.Equal(t, "https://cdn.example.com/thumb2.jpg", second.Thumbnail)
	require.Equal(t, "3:45", second.Duration)
}

func TestHTMLSource_EmptyListing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html><body><p>nothing here</p></body></html>"))
	}))
	defer srv.Close()

	src := NewHTMLSource(zap.NewNop())
	items, err := src.Items(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestHTMLSource_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	src := NewHTMLSource(zap.NewNop())
	_, err := src.Items(context.Background(), srv.URL)
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 503")
}

func TestHTMLSource_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(listingPage))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := NewHTMLSource(zap.NewNop())
	_, err := src.Items(ctx, srv.URL)
	require.Error(t, err)
}
