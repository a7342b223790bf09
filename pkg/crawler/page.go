package crawler

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// Page is the result of fetching a Job.
type Page struct {
	// URL is the requested URL, echoed back from the job.
	URL string
	// FinalURL is where the request ended up after redirects.
	FinalURL string
	// Status is the HTTP status code; zero means no response was received.
	Status int
	// Text is the body decoded to UTF-8.
	Text string
	// Content is the response body exactly as received.
	Content []byte
	// Header holds the response headers.
	Header http.Header

	docOnce sync.Once
	doc     *goquery.Document
	docErr  error
}

// Document parses Text on first use and caches the result. It is safe to call
// from several goroutines.
func (p *Page) Document() (*goquery.Document, error) {
	p.docOnce.Do(func() {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.Text))
		if err != nil {
			p.docErr = fmt.Errorf("parse page %s: %w", p.URL, err)
			return
		}
		p.doc = doc
	})
	return p.doc, p.docErr
}

func (p *Page) String() string {
	return fmt.Sprintf("<Page: url=%s>", truncate(p.URL, 37))
}
