package crawler

import "context"

// FetchRequest captures everything needed to perform one HTTP exchange.
type FetchRequest struct {
	URL     string
	Method  string
	Headers map[string]string
	Cookies map[string]string
}

// Fetcher performs one HTTP exchange and returns the resulting page. It must
// not retry and must be safe for concurrent use.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (*Page, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req FetchRequest) (*Page, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, req FetchRequest) (*Page, error) {
	return f(ctx, req)
}
