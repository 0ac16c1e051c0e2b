// Package telegram is a minimal Bot API client covering the send methods
// the publisher uses.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const DefaultAPIURL = "https://api.telegram.org"

const (
	MethodSendMessage    = "sendMessage"
	MethodSendPhoto      = "sendPhoto"
	MethodSendVideo      = "sendVideo"
	MethodSendMediaGroup = "sendMediaGroup"
)

// Request is one Bot API call. Files maps a multipart part name to a local
// path; fields may reference those parts as attach://<name>.
type Request struct {
	Method string
	Fields map[string]string
	Files  map[string]string
}

// Response is the decoded Bot API reply. A non-2xx status is reported here,
// not as an error.
type Response struct {
	StatusCode  int
	OK          bool
	ErrorCode   int
	Description string
	RetryAfter  time.Duration
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

type Client struct {
	httpClient *http.Client
	apiURL     string
}

func New(httpClient *http.Client, apiURL string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	return &Client{
		httpClient: httpClient,
		apiURL:     strings.TrimRight(apiURL, "/"),
	}
}

// Send performs req with the bot token. Files are opened on every call so a
// retried request re-reads them from the start.
func (c *Client) Send(ctx context.Context, token string, req Request) (*Response, error) {
	body, contentType, err := encode(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", req.Method, err)
	}

	endpoint := c.apiURL + "/bot" + token + "/" + req.Method
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", req.Method, redact(err))
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute %s: %w", req.Method, redact(err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", req.Method, err)
	}

	out := &Response{StatusCode: resp.StatusCode}
	var api apiResponse
	if json.Unmarshal(raw, &api) == nil {
		out.OK = api.OK
		out.ErrorCode = api.ErrorCode
		out.Description = api.Description
		out.RetryAfter = time.Duration(api.Parameters.RetryAfter) * time.Second
	} else {
		out.Description = strings.TrimSpace(string(raw))
	}
	if out.RetryAfter == 0 {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			out.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return out, nil
}

func encode(req Request) (io.Reader, string, error) {
	if len(req.Files) == 0 {
		form := url.Values{}
		for k, v := range req.Fields {
			form.Set(k, v)
		}
		return strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", nil
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, k := range sortedKeys(req.Fields) {
		if err := w.WriteField(k, req.Fields[k]); err != nil {
			return nil, "", err
		}
	}
	for _, name := range sortedKeys(req.Files) {
		if err := writeFile(w, name, req.Files[name]); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func writeFile(w *multipart.Writer, name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	part, err := w.CreateFormFile(name, filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("copy %s: %w", name, err)
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// redact drops the request URL, which carries the bot token, from transport
// errors.
func redact(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}
