package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wilson/brickwatch/pkg/logger"
)

func newTestFetcher(t *testing.T, timeout time.Duration) *SimpleFetcher {
	t.Helper()
	return NewSimpleFetcher(SimpleConfig{
		Timeout:        timeout,
		UserAgent:      "BrickWatch-test/1.0",
		CheckRobotsTxt: false,
	}, logger.New(logger.Config{Level: "error"}))
}

func TestSimpleFetchSuccess(t *testing.T) {
	var gotUA, gotLang string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotLang = r.Header.Get("Accept-Language")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, 5*time.Second)
	resp, err := f.Fetch(context.Background(), Request{URL: srv.URL, Mode: ModeSimple})
	require.NoError(t, err)
	require.Equal(t, 200, resp.Status)
	require.Equal(t, []byte("<html>ok</html>"), resp.Body)
	require.Contains(t, resp.ContentType, "text/html")
	require.NotEmpty(t, gotUA, "rotated User-Agent header must be sent")
	require.NotEmpty(t, gotLang, "Accept-Language header must be sent")
}

func TestSimpleFetchFollowsRedirects(t *testing.T) {
	var target *httptest.Server
	target = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new", http.StatusMovedPermanently)
			return
		}
		_, _ = w.Write([]byte("landed"))
	}))
	defer target.Close()

	f := newTestFetcher(t, 5*time.Second)
	resp, err := f.Fetch(context.Background(), Request{URL: target.URL + "/old"})
	require.NoError(t, err)
	require.Equal(t, target.URL+"/new", resp.FinalURL)
	require.Equal(t, []byte("landed"), resp.Body)
}

func TestSimpleFetch404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := newTestFetcher(t, 5*time.Second)
	resp, err := f.Fetch(context.Background(), Request{URL: srv.URL})
	require.Error(t, err)
	require.True(t, IsNotFound(err))

	// The response still carries status and body for diagnostics
	require.NotNil(t, resp)
	require.Equal(t, 404, resp.Status)
}

func TestSimpleFetch503IsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := newTestFetcher(t, 5*time.Second)
	_, err := f.Fetch(context.Background(), Request{URL: srv.URL})

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, 503, httpErr.Status)
	require.False(t, IsNotFound(err))
}

func TestSimpleFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	f := newTestFetcher(t, 50*time.Millisecond)
	_, err := f.Fetch(context.Background(), Request{URL: srv.URL})
	require.ErrorIs(t, err, ErrTimeout)
}

func TestSimpleFetchNetworkError(t *testing.T) {
	f := newTestFetcher(t, time.Second)
	_, err := f.Fetch(context.Background(), Request{URL: "http://127.0.0.1:1/unreachable"})
	require.ErrorIs(t, err, ErrNetwork)
}

func TestSimpleFetchExtraHeaders(t *testing.T) {
	var gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccept = r.Header.Get("Accept")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	f := newTestFetcher(t, 5*time.Second)
	_, err := f.Fetch(context.Background(), Request{
		URL:     srv.URL,
		Headers: map[string]string{"Accept": "application/json"},
	})
	require.NoError(t, err)
	require.Equal(t, "application/json", gotAccept)
}
