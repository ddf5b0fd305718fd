package research

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/trendy-design/taskflow/pkg/schema"
)

const (
	defaultHTTPTimeout = 20 * time.Second
	maxPageBytes       = 2 << 20
	maxSearchBytes     = 1 << 20
)

// HTTPSearcher queries a JSON search endpoint:
//
//	GET {endpoint}?q={query}&limit={n}
//	-> {"results": [{"title": "...", "link": "...", "snippet": "..."}]}
//
// "url" is accepted as an alias of "link".
type HTTPSearcher struct {
	endpoint string
	apiKey   string
	limit    int
	client   *http.Client
}

// NewHTTPSearcher creates a searcher. apiKey, if set, is sent as a bearer
// token; client defaults to one with a 20s timeout.
func NewHTTPSearcher(endpoint, apiKey string, limit int, client *http.Client) *HTTPSearcher {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if limit <= 0 {
		limit = 10
	}
	return &HTTPSearcher{endpoint: endpoint, apiKey: apiKey, limit: limit, client: client}
}

type searchResponse struct {
	Results []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		URL     string `json:"url"`
		Snippet string `json:"snippet"`
	} `json:"results"`
}

// Search runs every query concurrently and merges the hits in query order.
func (s *HTTPSearcher) Search(ctx context.Context, queries []string) ([]SearchResult, error) {
	perQuery := make([][]SearchResult, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		g.Go(func() error {
			hits, err := s.searchOne(gctx, q)
			perQuery[i] = hits
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []SearchResult
	seen := make(map[string]bool)
	for _, hits := range perQuery {
		for _, h := range hits {
			if h.Link == "" || seen[h.Link] {
				continue
			}
			seen[h.Link] = true
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *HTTPSearcher) searchOne(ctx context.Context, query string) ([]SearchResult, error) {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid search endpoint %q", s.endpoint).WithCause(err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(s.limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "build search request").WithCause(err)
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	body, _, err := do(s.client, req, maxSearchBytes)
	if err != nil {
		return nil, err
	}
	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "decode search response for %q", query).WithCause(err)
	}

	hits := make([]SearchResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		link := r.Link
		if link == "" {
			link = r.URL
		}
		hits = append(hits, SearchResult{Title: r.Title, Link: link, Snippet: r.Snippet})
	}
	return hits, nil
}

// HTTPReader fetches pages and converts their HTML to plain markdown-ish
// text: headings become "#" lines, list items "-" lines, and scripts,
// styles and navigation are dropped.
type HTTPReader struct {
	client *http.Client
}

// NewHTTPReader creates a reader; client defaults to one with a 20s timeout.
func NewHTTPReader(client *http.Client) *HTTPReader {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &HTTPReader{client: client}
}

func (r *HTTPReader) Read(ctx context.Context, pageURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid page url %q", pageURL).WithCause(err)
	}
	req.Header.Set("Accept", "text/html,text/plain;q=0.9,*/*;q=0.5")

	body, contentType, err := do(r.client, req, maxPageBytes)
	if err != nil {
		return nil, err
	}

	media, _, _ := mime.ParseMediaType(contentType)
	if media != "" && media != "text/html" && media != "application/xhtml+xml" {
		return &Page{URL: pageURL, Markdown: strings.TrimSpace(string(body))}, nil
	}

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "parse page %s", pageURL).WithCause(err)
	}
	title, text := extract(doc)
	return &Page{URL: pageURL, Title: title, Markdown: text}, nil
}

// do sends req and returns at most limit bytes of a 2xx body.
func do(client *http.Client, req *http.Request, limit int64) ([]byte, string, error) {
	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, "", schema.NewErrorf(schema.ErrCodeTimeout, "GET %s timed out", req.URL.Host).WithCause(err)
		}
		return nil, "", schema.NewErrorf(schema.ErrCodeExecution, "GET %s", req.URL.Host).WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, "", schema.NewErrorf(schema.ErrCodeExecution, "read %s", req.URL.Host).WithCause(err)
	}
	if resp.StatusCode >= 300 {
		code := schema.ErrCodeExecution
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			code = schema.ErrCodeNonRetryable
		}
		return nil, "", schema.NewErrorf(code, "GET %s: status %d", req.URL.Host, resp.StatusCode).
			WithDetails(map[string]any{"status_code": resp.StatusCode})
	}
	return body, resp.Header.Get("Content-Type"), nil
}

var skipElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "nav": true,
	"header": true, "footer": true, "svg": true, "form": true, "iframe": true,
}

var blockElements = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "main": true,
	"br": true, "tr": true, "blockquote": true, "pre": true, "table": true,
}

// extract walks the document and returns its title and text.
func extract(doc *html.Node) (string, string) {
	var title string
	var b strings.Builder

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "title":
				if title == "" && n.FirstChild != nil {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			case skipElements[n.Data]:
				return
			case len(n.Data) == 2 && n.Data[0] == 'h' && n.Data[1] >= '1' && n.Data[1] <= '6':
				b.WriteString("\n\n" + strings.Repeat("#", int(n.Data[1]-'0')) + " ")
			case n.Data == "li":
				b.WriteString("\n- ")
			case blockElements[n.Data]:
				b.WriteString("\n\n")
			}
		}
		if n.Type == html.TextNode {
			if text := strings.Join(strings.Fields(n.Data), " "); text != "" {
				b.WriteString(text)
				b.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return title, tidy(b.String())
}

// tidy trims every line and collapses runs of blank lines.
func tidy(s string) string {
	var out []string
	blank := false
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "-" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
