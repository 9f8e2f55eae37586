package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// DefaultUserAgent identifies job page requests.
const DefaultUserAgent = "Mozilla/5.0 (compatible; TailorGraph/1.0)"

// jobSelectors name the containers job boards commonly wrap descriptions
// in. Each is tried as an id, then as a class, in order.
var jobSelectors = []string{
	"job-description",
	"description",
	"jobDescription",
	"job-details",
	"jobDetails",
	"job-posting",
	"jobPosting",
}

// maxPageBytes bounds how much of a job page is read.
const maxPageBytes = 5 << 20

// JobFetcher retrieves job descriptions from posting URLs.
type JobFetcher struct {
	Client    *http.Client
	UserAgent string
}

// NewJobFetcher returns a JobFetcher with the given request timeout.
func NewJobFetcher(timeout time.Duration) *JobFetcher {
	return &JobFetcher{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: DefaultUserAgent,
	}
}

// FetchJobText fetches rawURL with a 30 second timeout and extracts the
// job description.
func FetchJobText(ctx context.Context, rawURL string) (string, error) {
	return NewJobFetcher(30*time.Second).Fetch(ctx, rawURL)
}

// Fetch downloads rawURL and extracts the job description text.
func (f *JobFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", &FetchError{URL: rawURL, Reason: "invalid URL", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", &FetchError{URL: rawURL, Reason: "build request", Err: err}
	}
	req.Header.Set("User-Agent", f.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", &FetchError{URL: rawURL, Reason: "request failed", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", &FetchError{URL: rawURL, Reason: fmt.Sprintf("HTTP status %d", resp.StatusCode)}
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", &FetchError{URL: rawURL, Reason: "parse HTML", Err: err}
	}

	text := JobText(doc)
	if text == "" {
		return "", &FetchError{URL: rawURL, Reason: "no job description found"}
	}
	return text, nil
}

// JobText finds the job description in a parsed page: the first known
// container by id or class, else the longest paragraph. Whitespace is
// collapsed.
func JobText(doc *goquery.Document) string {
	doc.Find("script, style, noscript").Remove()

	for _, name := range jobSelectors {
		if sel := doc.Find("#" + name); sel.Length() > 0 {
			return collapse(sel.First().Text())
		}
		if sel := doc.Find("." + name); sel.Length() > 0 {
			return collapse(sel.First().Text())
		}
	}

	longest := ""
	doc.Find("p").Each(func(_ int, p *goquery.Selection) {
		if text := p.Text(); len(text) > len(longest) {
			longest = text
		}
	})
	return collapse(longest)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
