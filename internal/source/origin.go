package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// DefaultUserAgent is sent when a feed configures no User-Agent of its own.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/80 Safari/537.36"

const maxBodySize = 16 << 20

// Request describes one GET against a list or detail page.
type Request struct {
	URL      string
	Timeout  time.Duration
	Encoding string
	Headers  map[string]string
}

// Fetcher performs origin requests. It never retries: a failed fetch is
// retried by the next poll cycle.
type Fetcher struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a fetcher. A nil client means http.DefaultClient's transport
// with per-request timeouts.
func New(client *http.Client, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &Fetcher{
		httpClient: client,
		logger:     logger,
	}
}

// Fetch returns the decoded body of req.URL. Connection failures, timeouts
// and 5xx responses wrap ErrTransient; other non-2xx statuses are returned
// as *StatusError.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (string, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("User-Agent", DefaultUserAgent)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: execute request: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return "", &StatusError{URL: req.URL, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(f.decode(resp.Body, req.Encoding))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrTransient, err)
	}
	return string(body), nil
}

func (f *Fetcher) decode(r io.Reader, encoding string) io.Reader {
	r = io.LimitReader(r, maxBodySize)
	name := strings.ToLower(strings.TrimSpace(encoding))
	if name == "" || name == "utf-8" || name == "utf8" {
		return r
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		f.logger.Warn("unknown response encoding, reading as utf-8", "encoding", encoding)
		return r
	}
	return transform.NewReader(r, enc.NewDecoder())
}

// AddQuery merges params into the query string of rawURL, overriding keys
// that are already present.
func AddQuery(rawURL string, params map[string]string) string {
	if len(params) == 0 {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
