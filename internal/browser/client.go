// Package browser provides the HTTP client for the browser automation
// backend. All operations go over one base URL; element references inside
// snapshots are scoped to a single snapshot and must be re-resolved after
// every action.
package browser

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Microck/chatgpt-webui-mcp/internal/config"
)

// Client is a client for the automation backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxChunks  int
}

// NewClient creates a new backend client.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL: cfg.Browser.BaseURL,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Browser.TimeoutMs) * time.Millisecond,
		},
		maxChunks: cfg.Browser.SnapshotMaxChunks,
	}
}

// Snapshot is a textual dump of a tab's interactive surface. Text is the
// concatenation of all chunks the backend returned; Truncated is set when
// the chunk bound was hit before the backend ran out of content.
type Snapshot struct {
	URL       string
	Text      string
	Truncated bool
}

// Link is one entry of a page's link inventory.
type Link struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

// Download is one queued page-triggered download.
type Download struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Data     []byte `json:"data,omitempty"`
}

// PageImage is one in-page image element.
type PageImage struct {
	Src    string `json:"src"`
	Alt    string `json:"alt,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Data   []byte `json:"data,omitempty"`
}

// Cookie is a cookie to inject into a tab's session.
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain"`
	Path     string `json:"path,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
	HTTPOnly bool   `json:"http_only,omitempty"`
}

// IsRunning checks if the backend is reachable.
func (c *Client) IsRunning(ctx context.Context) bool {
	var out struct {
		Status string `json:"status"`
	}
	return c.do(ctx, http.MethodGet, "/healthz", nil, &out) == nil
}

// CreateTab opens a fresh tab (session context) and returns its id.
func (c *Client) CreateTab(ctx context.Context) (string, error) {
	var out struct {
		TabID string `json:"tab_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/tabs", nil, &out); err != nil {
		return "", fmt.Errorf("create tab: %w", err)
	}
	if out.TabID == "" {
		return "", fmt.Errorf("create tab: backend returned empty tab id")
	}
	return out.TabID, nil
}

// DeleteTab closes a tab. It is idempotent: an unknown tab is not an error.
func (c *Client) DeleteTab(ctx context.Context, tabID string) error {
	err := c.do(ctx, http.MethodDelete, "/v1/tabs/"+url.PathEscape(tabID), nil, nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete tab: %w", err)
	}
	return nil
}

// Navigate points a tab at a URL.
func (c *Client) Navigate(ctx context.Context, tabID, target string) error {
	body := map[string]string{"url": target}
	if err := c.do(ctx, http.MethodPost, "/v1/tabs/"+url.PathEscape(tabID)+"/navigate", body, nil); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	return nil
}

// WaitIdle blocks until the tab's network is idle or the timeout elapses.
func (c *Client) WaitIdle(ctx context.Context, tabID string, timeout time.Duration) error {
	body := map[string]int64{"timeout_ms": timeout.Milliseconds()}
	if err := c.do(ctx, http.MethodPost, "/v1/tabs/"+url.PathEscape(tabID)+"/wait-idle", body, nil); err != nil {
		return fmt.Errorf("wait idle: %w", err)
	}
	return nil
}

// snapshotChunk is one page of the paginated snapshot endpoint.
type snapshotChunk struct {
	URL        string `json:"url"`
	Text       string `json:"text"`
	HasMore    bool   `json:"has_more"`
	NextOffset int    `json:"next_offset"`
}

// Snapshot fetches the tab's rendered text, following the offset-based
// continuation until the backend reports no more content or the configured
// chunk bound is reached. The result is never cached: the surface mutates
// continuously, so callers re-snapshot on every tick.
func (c *Client) Snapshot(ctx context.Context, tabID string) (*Snapshot, error) {
	var buf bytes.Buffer
	snap := &Snapshot{}

	offset := 0
	for i := 0; i < c.maxChunks; i++ {
		var chunk snapshotChunk
		path := fmt.Sprintf("/v1/tabs/%s/snapshot?offset=%d", url.PathEscape(tabID), offset)
		if err := c.do(ctx, http.MethodGet, path, nil, &chunk); err != nil {
			return nil, fmt.Errorf("snapshot: %w", err)
		}
		buf.WriteString(chunk.Text)
		snap.URL = chunk.URL
		if !chunk.HasMore {
			snap.Text = buf.String()
			return snap, nil
		}
		offset = chunk.NextOffset
	}

	snap.Text = buf.String()
	snap.Truncated = true
	return snap, nil
}

// Links fetches the tab's link inventory.
func (c *Client) Links(ctx context.Context, tabID string) ([]Link, error) {
	var out struct {
		Links []Link `json:"links"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/tabs/"+url.PathEscape(tabID)+"/links", nil, &out); err != nil {
		return nil, fmt.Errorf("links: %w", err)
	}
	return out.Links, nil
}

// VisitedURLs fetches the tab's navigation history, oldest first.
func (c *Client) VisitedURLs(ctx context.Context, tabID string) ([]string, error) {
	var out struct {
		URLs []string `json:"urls"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/tabs/"+url.PathEscape(tabID)+"/visited", nil, &out); err != nil {
		return nil, fmt.Errorf("visited urls: %w", err)
	}
	return out.URLs, nil
}

// Click clicks an element by @eN reference or CSS selector.
func (c *Client) Click(ctx context.Context, tabID, target string) error {
	body := map[string]string{"target": target}
	if err := c.do(ctx, http.MethodPost, "/v1/tabs/"+url.PathEscape(tabID)+"/click", body, nil); err != nil {
		return fmt.Errorf("click %s: %w", target, err)
	}
	return nil
}

// Type types text into an element by @eN reference or CSS selector.
func (c *Client) Type(ctx context.Context, tabID, target, text string) error {
	body := map[string]string{"target": target, "text": text}
	if err := c.do(ctx, http.MethodPost, "/v1/tabs/"+url.PathEscape(tabID)+"/type", body, nil); err != nil {
		return fmt.Errorf("type into %s: %w", target, err)
	}
	return nil
}

// Press sends a single keypress to the tab.
func (c *Client) Press(ctx context.Context, tabID, key string) error {
	body := map[string]string{"key": key}
	if err := c.do(ctx, http.MethodPost, "/v1/tabs/"+url.PathEscape(tabID)+"/press", body, nil); err != nil {
		return fmt.Errorf("press %s: %w", key, err)
	}
	return nil
}

// Downloads fetches the queued downloads. With inline set the backend
// includes file bytes; with drain set the queue is emptied.
func (c *Client) Downloads(ctx context.Context, tabID string, inline, drain bool) ([]Download, error) {
	var out struct {
		Downloads []Download `json:"downloads"`
	}
	path := fmt.Sprintf("/v1/tabs/%s/downloads?inline=%t&drain=%t", url.PathEscape(tabID), inline, drain)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("downloads: %w", err)
	}
	return out.Downloads, nil
}

// PageImages fetches the tab's in-page image elements.
func (c *Client) PageImages(ctx context.Context, tabID string, inline bool) ([]PageImage, error) {
	var out struct {
		Images []PageImage `json:"images"`
	}
	path := fmt.Sprintf("/v1/tabs/%s/images?inline=%t", url.PathEscape(tabID), inline)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("page images: %w", err)
	}
	return out.Images, nil
}

// Screenshot captures the tab as PNG bytes.
func (c *Client) Screenshot(ctx context.Context, tabID string) ([]byte, error) {
	var out struct {
		Data string `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/tabs/"+url.PathEscape(tabID)+"/screenshot", nil, &out); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(out.Data)
	if err != nil {
		return nil, fmt.Errorf("screenshot: invalid base64 payload: %w", err)
	}
	return data, nil
}

// SetCookies injects cookies into the tab's session context.
func (c *Client) SetCookies(ctx context.Context, tabID string, cookies []Cookie) error {
	body := map[string][]Cookie{"cookies": cookies}
	if err := c.do(ctx, http.MethodPost, "/v1/tabs/"+url.PathEscape(tabID)+"/cookies", body, nil); err != nil {
		return fmt.Errorf("set cookies: %w", err)
	}
	return nil
}

// Restart restarts the backend's browser process. Crash recovery only.
func (c *Client) Restart(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/v1/restart", nil, nil); err != nil {
		return fmt.Errorf("restart browser: %w", err)
	}
	return nil
}

// statusError carries a non-2xx backend response.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Body)
}

func isNotFound(err error) bool {
	se, ok := err.(*statusError)
	return ok && se.Code == http.StatusNotFound
}

func (c *Client) do(ctx context.Context, method, path string, reqBody, respOut interface{}) error {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &statusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}

	if respOut == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(respOut)
}
