package crawler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type seenRequest struct {
	method    string
	path      string
	userAgent string
	trace     string
	cookie    string
}

type requestLog struct {
	mu   sync.Mutex
	reqs []seenRequest
}

func (l *requestLog) record(r *http.Request) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reqs = append(l.reqs, seenRequest{
		method:    r.Method,
		path:      r.URL.Path,
		userAgent: r.UserAgent(),
		trace:     r.Header.Get("X-Trace"),
		cookie:    r.Header.Get("Cookie"),
	})
}

func (l *requestLog) all() []seenRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]seenRequest(nil), l.reqs...)
}

// bigBodySize is larger than Colly's default 10 MiB body limit.
const bigBodySize = 11 << 20

func newTestServer(t *testing.T, log *requestLog) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		log.record(r)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("X-Served-By", "test")
		_, _ = w.Write([]byte("<html><head><title>OK</title></head><body>fine</body></html>"))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		log.record(r)
		http.Error(w, "gone fishing", http.StatusNotFound)
	})
	mux.HandleFunc("/latin1", func(w http.ResponseWriter, r *http.Request) {
		log.record(r)
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		_, _ = w.Write([]byte("<p>caf\xe9</p>"))
	})
	mux.HandleFunc("/meta", func(w http.ResponseWriter, r *http.Request) {
		log.record(r)
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><head><meta charset=\"iso-8859-1\"></head><body><p>caf\xe9</p></body></html>"))
	})
	mux.HandleFunc("/big", func(w http.ResponseWriter, r *http.Request) {
		log.record(r)
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write(bytes.Repeat([]byte("a"), bigBodySize))
	})
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
		log.record(r)
		http.Redirect(w, r, "/ok", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCollyFetcher_Fetch(t *testing.T) {
	t.Parallel()

	log := &requestLog{}
	srv := newTestServer(t, log)
	fetcher := NewCollyFetcher(Config{MaxConnections: 2, UserAgent: "jobcrawl-test"})

	page, err := fetcher.Fetch(context.Background(), NewJob(KindInitial, srv.URL+"/ok").Request())

	require.NoError(t, err)
	require.Equal(t, srv.URL+"/ok", page.URL)
	require.Equal(t, srv.URL+"/ok", page.FinalURL)
	require.Equal(t, http.StatusOK, page.Status)
	require.Contains(t, page.Text, "<title>OK</title>")
	require.Equal(t, page.Text, string(page.Content))
	require.Equal(t, "test", page.Header.Get("X-Served-By"))

	reqs := log.all()
	require.Len(t, reqs, 1)
	require.Equal(t, http.MethodGet, reqs[0].method)
	require.Equal(t, "jobcrawl-test", reqs[0].userAgent)

	doc, err := page.Document()
	require.NoError(t, err)
	require.Equal(t, "OK", doc.Find("title").Text())
}

func TestCollyFetcher_SendsMethodHeadersAndCookies(t *testing.T) {
	t.Parallel()

	log := &requestLog{}
	srv := newTestServer(t, log)
	fetcher := NewCollyFetcher(Config{})
	job := NewJob("page", srv.URL+"/ok").
		WithMethod(http.MethodPost).
		WithHeader("X-Trace", "abc123").
		WithCookie("session", "s1").
		WithCookie("lang", "en")

	_, err := fetcher.Fetch(context.Background(), job.Request())
	require.NoError(t, err)

	reqs := log.all()
	require.Len(t, reqs, 1)
	require.Equal(t, http.MethodPost, reqs[0].method)
	require.Equal(t, "abc123", reqs[0].trace)
	require.Equal(t, "lang=en; session=s1", reqs[0].cookie)
}

func TestCollyFetcher_CookiesDoNotLeakBetweenJobs(t *testing.T) {
	t.Parallel()

	log := &requestLog{}
	srv := newTestServer(t, log)
	fetcher := NewCollyFetcher(Config{})

	_, err := fetcher.Fetch(context.Background(), NewJob("page", srv.URL+"/ok").WithCookie("session", "s1").Request())
	require.NoError(t, err)
	_, err = fetcher.Fetch(context.Background(), NewJob("page", srv.URL+"/ok").Request())
	require.NoError(t, err)

	reqs := log.all()
	require.Len(t, reqs, 2)
	require.Equal(t, "session=s1", reqs[0].cookie)
	require.Empty(t, reqs[1].cookie)
}

func TestCollyFetcher_ErrorStatusStillProducesPage(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &requestLog{})
	fetcher := NewCollyFetcher(Config{})

	page, err := fetcher.Fetch(context.Background(), NewJob("page", srv.URL+"/missing").Request())

	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, page.Status)
	require.Contains(t, page.Text, "gone fishing")
}

func TestCollyFetcher_DecodesDeclaredCharset(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &requestLog{})
	fetcher := NewCollyFetcher(Config{})

	page, err := fetcher.Fetch(context.Background(), NewJob("page", srv.URL+"/latin1").Request())

	require.NoError(t, err)
	require.Equal(t, "<p>café</p>", page.Text)
	require.Equal(t, []byte("<p>caf\xe9</p>"), page.Content)
	require.Equal(t, "text/html; charset=iso-8859-1", page.Header.Get("Content-Type"))
}

func TestCollyFetcher_SniffsUndeclaredCharset(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &requestLog{})
	fetcher := NewCollyFetcher(Config{})

	page, err := fetcher.Fetch(context.Background(), NewJob("page", srv.URL+"/meta").Request())

	require.NoError(t, err)
	require.Contains(t, page.Text, "<p>café</p>")
	require.Contains(t, string(page.Content), "caf\xe9")
}

func TestCollyFetcher_ReturnsWholeBodyWithoutLimit(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &requestLog{})
	fetcher := NewCollyFetcher(Config{})

	page, err := fetcher.Fetch(context.Background(), NewJob("page", srv.URL+"/big").Request())

	require.NoError(t, err)
	require.Len(t, page.Content, bigBodySize)
	require.Len(t, page.Text, bigBodySize)
}

func TestCollyFetcher_BodyLimit(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &requestLog{})

	testCases := []struct {
		name    string
		limit   int64
		wantErr bool
	}{
		{name: "over limit", limit: 1 << 20, wantErr: true},
		{name: "exact fit", limit: bigBodySize},
		{name: "under limit", limit: bigBodySize + 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			fetcher := NewCollyFetcher(Config{MaxBodyBytes: tc.limit})

			page, err := fetcher.Fetch(context.Background(), NewJob("page", srv.URL+"/big").Request())

			if tc.wantErr {
				require.ErrorIs(t, err, ErrBodyTooLarge)
				require.Nil(t, page)
				return
			}
			require.NoError(t, err)
			require.Len(t, page.Content, bigBodySize)
		})
	}
}

func TestCollyFetcher_FollowsRedirects(t *testing.T) {
	t.Parallel()

	log := &requestLog{}
	srv := newTestServer(t, log)
	fetcher := NewCollyFetcher(Config{})

	page, err := fetcher.Fetch(context.Background(), NewJob("page", srv.URL+"/moved").Request())

	require.NoError(t, err)
	require.Equal(t, srv.URL+"/moved", page.URL)
	require.Equal(t, http.StatusOK, page.Status)
	require.Contains(t, page.Text, "<title>OK</title>")
	require.Len(t, log.all(), 2)
}

func TestCollyFetcher_ConnectionError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()
	fetcher := NewCollyFetcher(Config{RequestTimeout: 2 * time.Second})

	page, err := fetcher.Fetch(context.Background(), NewJob("page", addr+"/").Request())

	require.Error(t, err)
	require.Nil(t, page)
}

func TestCollyFetcher_ContextCanceled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })
	fetcher := NewCollyFetcher(Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := fetcher.Fetch(ctx, NewJob("page", srv.URL+"/").Request())

	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCookieHeader(t *testing.T) {
	t.Parallel()

	require.Empty(t, cookieHeader(nil))
	require.Equal(t, "a=1; b=2", cookieHeader(map[string]string{"b": "2", "a": "1"}))
}

func TestDecodeBody(t *testing.T) {
	t.Parallel()

	require.Empty(t, decodeBody(nil, "text/html"))
	require.Equal(t, "plain", decodeBody([]byte("plain"), ""))
	require.Equal(t, "Grüße", decodeBody([]byte("Gr\xfc\xdfe"), "text/plain"))
	require.Equal(t, "Grüße", decodeBody([]byte("Grüße"), "text/plain"))
	require.Equal(t, "café", decodeBody([]byte("caf\xe9"), "text/html; charset=ISO-8859-1"))
	require.Equal(t, "café", decodeBody([]byte("café"), "text/html; charset=utf-8"))
}

type stubRoundTripper struct {
	header http.Header
}

func (s *stubRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return &http.Response{StatusCode: http.StatusOK, Header: s.header.Clone(), Request: req}, nil
}

func TestRawCharsetTransport(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{header: http.Header{"Content-Type": {"text/html; charset=ISO-8859-1"}}}
	transport := &rawCharsetTransport{base: base}

	meta := &responseMeta{}
	ctx := context.WithValue(context.Background(), responseMetaKey{}, meta)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://example.com/", nil)
	require.NoError(t, err)

	resp, err := transport.RoundTrip(req)
	require.NoError(t, err)
	require.Equal(t, "text/html", resp.Header.Get("Content-Type"))
	require.Equal(t, "text/html; charset=ISO-8859-1", meta.contentType)

	plain, err := http.NewRequest(http.MethodGet, "http://example.com/", nil)
	require.NoError(t, err)
	resp, err = transport.RoundTrip(plain)
	require.NoError(t, err)
	require.Equal(t, "text/html; charset=ISO-8859-1", resp.Header.Get("Content-Type"))
}
