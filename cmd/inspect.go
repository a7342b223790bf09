package cmd

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobcrawl/pkg/crawler"
)

const kindInspect = "inspect"

type inspectOptions struct {
	selector string
	method   string
	headers  map[string]string
	cookies  map[string]string
}

// newInspectCmd creates the 'inspect' subcommand, which fetches one URL
// through the same fetcher a crawl uses and prints what came back.
func newInspectCmd() *cobra.Command {
	opts := &inspectOptions{}
	cmd := &cobra.Command{
		Use:   "inspect <url>",
		Short: "Fetch a single URL and print the response",
		Long: `Performs exactly one request, without following links, and prints the
status, final URL and size of the response. With --select the text of every
matching element is printed instead of the page title.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.selector, "select", "", "CSS selector whose matches are printed")
	cmd.Flags().StringVar(&opts.method, "method", http.MethodGet, "HTTP method")
	cmd.Flags().StringToStringVar(&opts.headers, "header", nil, "request header as key=value (repeatable)")
	cmd.Flags().StringToStringVar(&opts.cookies, "cookie", nil, "cookie as name=value (repeatable)")
	return cmd
}

func runInspect(cmd *cobra.Command, rawURL string, opts *inspectOptions) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	cfg, err := crawler.LoadConfig(e.v)
	if err != nil {
		return fmt.Errorf("load crawler config: %w", err)
	}

	job := crawler.NewJob(kindInspect, rawURL).WithMethod(strings.ToUpper(opts.method))
	for k, v := range opts.headers {
		job = job.WithHeader(k, v)
	}
	for k, v := range opts.cookies {
		job = job.WithCookie(k, v)
	}

	e.logger.Debug("Inspecting URL", zap.Stringer("job", job))
	page, err := crawler.NewCollyFetcher(cfg).Fetch(cmd.Context(), job.Request())
	if err != nil {
		return &crawler.FetchError{Job: job, Err: err}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "status:    %d\n", page.Status)
	fmt.Fprintf(out, "final url: %s\n", page.FinalURL)
	fmt.Fprintf(out, "type:      %s\n", page.Header.Get("Content-Type"))
	fmt.Fprintf(out, "bytes:     %d\n", len(page.Content))

	doc, err := page.Document()
	if err != nil {
		return err
	}
	if opts.selector == "" {
		fmt.Fprintf(out, "title:     %s\n", strings.TrimSpace(doc.Find("title").First().Text()))
		fmt.Fprintf(out, "links:     %d\n", doc.Find("a[href]").Length())
		return nil
	}
	printSelection(out, doc, opts.selector)
	return nil
}

func printSelection(out io.Writer, doc *goquery.Document, selector string) {
	matches := doc.Find(selector)
	fmt.Fprintf(out, "matches:   %d\n", matches.Length())
	matches.Each(func(i int, s *goquery.Selection) {
		line := strings.Join(strings.Fields(s.Text()), " ")
		if href, ok := s.Attr("href"); ok {
			line += " -> " + href
		}
		fmt.Fprintf(out, "[%d] %s\n", i, line)
	})
}
