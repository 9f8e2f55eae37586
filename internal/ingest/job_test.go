package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func page(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestJobText(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "id",
			html: `<div id="job-description">  Senior Go
				engineer  </div><p>A much longer paragraph about the company and its history.</p>`,
			want: "Senior Go engineer",
		},
		{
			name: "class",
			html: `<section class="jobDetails main">Build APIs in Go</section>`,
			want: "Build APIs in Go",
		},
		{
			name: "selector order beats markup order",
			html: `<div class="jobPosting">Posting</div><div id="description">Description</div>`,
			want: "Description",
		},
		{
			name: "id before class for the same name",
			html: `<div class="job-description">By class</div><div id="job-description">By id</div>`,
			want: "By id",
		},
		{
			name: "longest paragraph fallback",
			html: `<p>Short.</p><p>Requirements: Go, Kubernetes and PostgreSQL.</p><p>Apply now.</p>`,
			want: "Requirements: Go, Kubernetes and PostgreSQL.",
		},
		{
			name: "scripts are ignored",
			html: `<div id="description"><script>var x = 1;</script>Real text</div>`,
			want: "Real text",
		},
		{
			name: "nothing found",
			html: `<div>No paragraphs here</div>`,
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, JobText(page(t, tt.html)))
		})
	}
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		switch r.URL.Path {
		case "/job":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(`<html><body><div class="description">Go engineer wanted</div></body></html>`))
		case "/empty":
			_, _ = w.Write([]byte(`<html><body><nav>Menu</nav></body></html>`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewJobFetcher(5 * time.Second)
	ctx := context.Background()

	text, err := f.Fetch(ctx, srv.URL+"/job")
	require.NoError(t, err)
	assert.Equal(t, "Go engineer wanted", text)

	for _, path := range []string{"/missing", "/empty"} {
		_, err := f.Fetch(ctx, srv.URL+path)
		var fe *FetchError
		require.ErrorAs(t, err, &fe, path)
		assert.Equal(t, srv.URL+path, fe.URL)
	}
}

func TestFetch_InvalidURL(t *testing.T) {
	for _, raw := range []string{"", "not a url", "ftp://example.com/job", "http://"} {
		_, err := FetchJobText(context.Background(), raw)
		var fe *FetchError
		require.ErrorAs(t, err, &fe, raw)
		assert.Equal(t, "invalid URL", fe.Reason)
	}
}

func TestFetch_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewJobFetcher(time.Second).Fetch(context.Background(), url)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "request failed", fe.Reason)
	assert.Error(t, fe.Unwrap())
}
