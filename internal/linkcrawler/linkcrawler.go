// Package linkcrawler is the stock handler set for the jobcrawl CLI: seed pages
// are scanned for links and every linked page has its title logged.
package linkcrawler

import (
	"context"
	"iter"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobcrawl/pkg/crawler"
)

// KindPage is the job kind queued for every discovered link.
const KindPage = "page"

// Options tune link discovery.
type Options struct {
	// SameHostOnly drops links that leave the host of the page they were found on.
	SameHostOnly bool
	Logger       *zap.Logger
}

// Crawler registers the link-following handlers on an engine. It implements
// crawler.Preparer.
type Crawler struct {
	opts   Options
	logger *zap.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

var _ crawler.Preparer = (*Crawler)(nil)

// New returns a Crawler using opts.
func New(opts Options) *Crawler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{opts: opts, logger: logger.Named("linkcrawler")}
}

// Prepare resets the seen set and registers the "initial" and "page" handlers.
func (c *Crawler) Prepare(_ context.Context, reg *crawler.Registry) error {
	c.mu.Lock()
	c.seen = make(map[string]struct{})
	c.mu.Unlock()

	reg.Register(crawler.KindInitial, crawler.Stream(c.extractLinks))
	reg.Register(KindPage, crawler.SingleResult(c.logTitle))
	return nil
}

// Seen reports how many distinct URLs have been claimed so far.
func (c *Crawler) Seen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *Crawler) extractLinks(_ context.Context, page *crawler.Page, job crawler.Job) iter.Seq2[crawler.Job, error] {
	if normalized, err := NormalizeURL(job.URL); err == nil {
		c.claim(normalized)
	}
	doc, err := page.Document()
	if err != nil {
		return crawler.Fail(err)
	}
	base, err := url.Parse(pageBase(page, job))
	if err != nil {
		return crawler.Fail(err)
	}

	return func(yield func(crawler.Job, error) bool) {
		doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			href, _ := s.Attr("href")
			next, ok := c.resolve(base, href)
			if !ok || !c.claim(next) {
				return true
			}
			return yield(crawler.NewJob(KindPage, next), nil)
		})
	}
}

func (c *Crawler) logTitle(_ context.Context, page *crawler.Page, job crawler.Job) (*crawler.Job, error) {
	doc, err := page.Document()
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	c.logger.Info("Page title",
		zap.String("url", job.URL),
		zap.Int("status", page.Status),
		zap.String("title", title),
	)
	return nil, nil
}

// resolve turns href into an absolute, normalized http(s) URL, or reports
// false when the link should not be followed.
func (c *Crawler) resolve(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	if c.opts.SameHostOnly && !strings.EqualFold(abs.Hostname(), base.Hostname()) {
		return "", false
	}
	normalized, err := NormalizeURL(abs.String())
	if err != nil {
		return "", false
	}
	return normalized, true
}

// claim records u and reports whether this call was the first to see it.
func (c *Crawler) claim(u string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen == nil {
		c.seen = make(map[string]struct{})
	}
	if _, ok := c.seen[u]; ok {
		return false
	}
	c.seen[u] = struct{}{}
	return true
}

func pageBase(page *crawler.Page, job crawler.Job) string {
	if page.FinalURL != "" {
		return page.FinalURL
	}
	if page.URL != "" {
		return page.URL
	}
	return job.URL
}
