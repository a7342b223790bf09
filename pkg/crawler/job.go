package crawler

import (
	"fmt"
	"maps"
	"net/http"
)

// KindInitial is the kind assigned to jobs built from seed URLs.
const KindInitial = "initial"

// Job describes one request awaiting fetch and dispatch.
type Job struct {
	Kind    string
	URL     string
	Method  string
	Headers map[string]string
	Cookies map[string]string
}

// NewJob builds a GET job of the given kind.
func NewJob(kind, rawURL string) Job {
	return Job{Kind: kind, URL: rawURL, Method: http.MethodGet}
}

// WithMethod returns a copy of the job using method.
func (j Job) WithMethod(method string) Job {
	j.Method = method
	return j
}

// WithHeader returns a copy of the job with the header set. The receiver's
// header map is left untouched.
func (j Job) WithHeader(key, value string) Job {
	j.Headers = withEntry(j.Headers, key, value)
	return j
}

// WithCookie returns a copy of the job with the cookie set.
func (j Job) WithCookie(name, value string) Job {
	j.Cookies = withEntry(j.Cookies, name, value)
	return j
}

// Request converts the job into the parameters handed to a Fetcher.
func (j Job) Request() FetchRequest {
	method := j.Method
	if method == "" {
		method = http.MethodGet
	}
	return FetchRequest{
		URL:     j.URL,
		Method:  method,
		Headers: j.Headers,
		Cookies: j.Cookies,
	}
}

func (j Job) String() string {
	return fmt.Sprintf("<Job: kind=%q url=%s>", j.Kind, truncate(j.URL, 27))
}

func withEntry(src map[string]string, key, value string) map[string]string {
	dst := make(map[string]string, len(src)+1)
	maps.Copy(dst, src)
	dst[key] = value
	return dst
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
