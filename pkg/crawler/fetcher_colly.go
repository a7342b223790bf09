package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/net/html/charset"
)

// DefaultUserAgent is sent when the configuration does not name one.
const DefaultUserAgent = "jobcrawl/1.0 (+https://github.com/JakeFAU/jobcrawl)"

// CollyFetcher implements Fetcher on top of a Colly collector. Every call runs
// on a fresh clone of the base collector, so calls share the pooled transport
// and nothing else.
type CollyFetcher struct {
	baseCollector *colly.Collector
	maxBodyBytes  int64
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// NewCollyFetcher constructs a Colly-based Fetcher sized for cfg.MaxConnections.
func NewCollyFetcher(cfg Config) *CollyFetcher {
	cfg = cfg.WithDefaults()
	base := colly.NewCollector(
		colly.Async(false),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.IgnoreRobotsTxt(),
		colly.MaxBodySize(collyBodyLimit(cfg.MaxBodyBytes)),
	)
	base.WithTransport(&rawCharsetTransport{base: newHTTPTransport(cfg.MaxConnections)})
	base.SetRequestTimeout(cfg.RequestTimeout)
	// Jobs carry their own cookies; a shared jar would leak them across jobs.
	base.DisableCookies()

	return &CollyFetcher{baseCollector: base, maxBodyBytes: cfg.MaxBodyBytes}
}

// collyBodyLimit reads one byte past the configured limit so an oversized body
// can be told apart from one that fits exactly. Colly treats 0 as unlimited.
func collyBodyLimit(maxBytes int64) int {
	if maxBytes <= 0 {
		return 0
	}
	return int(maxBytes + 1)
}

// Fetch performs exactly one request for req.
func (f *CollyFetcher) Fetch(ctx context.Context, req FetchRequest) (*Page, error) {
	var (
		page     *Page
		fetchErr error
	)
	meta := &responseMeta{}
	collector := f.buildCollector(context.WithValue(ctx, responseMetaKey{}, meta))
	configureCollectorHooks(collector, req, meta, f.maxBodyBytes, &page, &fetchErr)

	if err := runCollector(ctx, collector, req, &fetchErr); err != nil {
		return nil, err
	}
	if page == nil {
		return nil, errors.New("colly fetch produced no response")
	}
	return page, nil
}

func (f *CollyFetcher) buildCollector(ctx context.Context) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	collector.IgnoreRobotsTxt = true
	collector.Context = ctx
	return collector
}

func configureCollectorHooks(hooks collectorHooks, req FetchRequest, meta *responseMeta, maxBody int64, page **Page, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		if maxBody > 0 && int64(len(r.Body)) > maxBody {
			*fetchErr = fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, maxBody)
			return
		}
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		if meta.contentType != "" {
			headers.Set("Content-Type", meta.contentType)
		}
		finalURL := req.URL
		if r.Request != nil && r.Request.URL != nil {
			finalURL = r.Request.URL.String()
		}
		body := append([]byte(nil), r.Body...)
		*page = &Page{
			URL:      req.URL,
			FinalURL: finalURL,
			Status:   r.StatusCode,
			Text:     decodeBody(body, headers.Get("Content-Type")),
			Content:  body,
			Header:   headers,
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, req FetchRequest, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Request(req.Method, req.URL, nil, colly.NewContext(), requestHeaders(req))
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly request failed: %w", err)
		}
		return nil
	}
}

type responseMetaKey struct{}

// responseMeta carries the Content-Type of the last response seen for one
// Fetch call, as the server sent it.
type responseMeta struct {
	contentType string
}

// rawCharsetTransport strips the charset parameter from Content-Type before
// Colly sees the response, so Colly leaves the body bytes alone. The original
// header is recorded in the request's responseMeta and restored on the Page.
type rawCharsetTransport struct {
	base http.RoundTripper
}

func (t *rawCharsetTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp == nil {
		return resp, err
	}
	meta, ok := req.Context().Value(responseMetaKey{}).(*responseMeta)
	if !ok {
		return resp, nil
	}
	contentType := resp.Header.Get("Content-Type")
	meta.contentType = contentType
	if strings.Contains(strings.ToLower(contentType), "charset") {
		mediaType, _, _ := strings.Cut(contentType, ";")
		resp.Header.Set("Content-Type", strings.TrimSpace(mediaType))
	}
	return resp, nil
}

func requestHeaders(req FetchRequest) http.Header {
	hdr := http.Header{}
	for key, value := range req.Headers {
		hdr.Set(key, value)
	}
	if cookie := cookieHeader(req.Cookies); cookie != "" {
		hdr.Set("Cookie", cookie)
	}
	return hdr
}

func cookieHeader(cookies map[string]string) string {
	if len(cookies) == 0 {
		return ""
	}
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	slices.Sort(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, (&http.Cookie{Name: name, Value: cookies[name]}).String())
	}
	return strings.Join(parts, "; ")
}

// decodeBody returns body as UTF-8 text. The encoding comes from a BOM, the
// Content-Type charset or a meta tag, falling back to UTF-8 when the bytes are
// valid and windows-1252 otherwise.
func decodeBody(body []byte, contentType string) string {
	if len(body) == 0 {
		return ""
	}
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return string(body)
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return string(body)
	}
	return string(decoded)
}

func newHTTPTransport(maxConns int) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   maxConns,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}
