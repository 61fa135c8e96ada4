package chatgpt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/Microck/chatgpt-webui-mcp/internal/config"
)

const sessionCookieName = "__Secure-next-auth.session-token"

// APIClient talks to the chat application's own backend API, authenticated
// via a bearer token obtained from the session endpoint.
type APIClient struct {
	baseURL      string
	sessionToken string
	httpClient   *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time

	// Short-lived caches: chat-requirements tokens and the model catalog.
	reqTokens *expirable.LRU[string, string]
	models    *expirable.LRU[string, []Model]
}

// NewAPIClient creates a backend API client from config.
func NewAPIClient(cfg *config.Config) *APIClient {
	return &APIClient{
		baseURL:      cfg.ChatGPT.BaseURL,
		sessionToken: cfg.GetSessionToken(),
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		reqTokens:    expirable.NewLRU[string, string](16, nil, 2*time.Minute),
		models:       expirable.NewLRU[string, []Model](1, nil, 5*time.Minute),
	}
}

// Session is the authenticated session info.
type Session struct {
	User struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"user"`
	Expires     string `json:"expires"`
	AccessToken string `json:"accessToken"`
}

// Model is one entry of the model catalog.
type Model struct {
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	Description string `json:"description"`
	MaxTokens   int    `json:"max_tokens"`
}

// GetSession fetches session info using the session cookie.
func (c *APIClient) GetSession(ctx context.Context) (*Session, error) {
	if c.sessionToken == "" {
		return nil, &Error{Kind: KindConfig, Op: "api session", Message: "no session token configured"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/auth/session", nil)
	if err != nil {
		return nil, wrapOp("api session", err)
	}
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: c.sessionToken})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, wrapOp("api session", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &Error{Kind: KindSessionExpired, Op: "api session", Message: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Kind: KindBackendUnavailable, Op: "api session", Message: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	var sess Session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return nil, wrapOp("api session", err)
	}
	if sess.AccessToken == "" {
		return nil, &Error{Kind: KindSessionExpired, Op: "api session", Message: "session endpoint returned no access token"}
	}
	return &sess, nil
}

// bearer returns a cached access token, refreshing via the session endpoint
// when absent or stale.
func (c *APIClient) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		tok := c.accessToken
		c.mu.Unlock()
		return tok, nil
	}
	c.mu.Unlock()

	sess, err := c.GetSession(ctx)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.accessToken = sess.AccessToken
	c.tokenExpiry = time.Now().Add(10 * time.Minute)
	c.mu.Unlock()
	return sess.AccessToken, nil
}

func (c *APIClient) doAuthed(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	tok, err := c.bearer(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &Error{Kind: KindSessionExpired, Op: "api " + path, Message: "status 401"}
	case resp.StatusCode == http.StatusNotFound:
		return &Error{Kind: KindNotFound, Op: "api " + path, Message: "status 404"}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &Error{Kind: KindBackendUnavailable, Op: "api " + path, Message: fmt.Sprintf("status %d: %s", resp.StatusCode, bytes.TrimSpace(data))}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ListModels fetches the model catalog, cached for a few minutes.
func (c *APIClient) ListModels(ctx context.Context) ([]Model, error) {
	if cached, ok := c.models.Get("catalog"); ok {
		return cached, nil
	}

	var out struct {
		Models []Model `json:"models"`
	}
	if err := c.doAuthed(ctx, http.MethodGet, "/backend-api/models", nil, &out); err != nil {
		return nil, wrapOp("api models", err)
	}
	c.models.Add("catalog", out.Models)
	return out.Models, nil
}

// RequirementsToken fetches the short-lived requirements token needed by
// certain requests, cached within its validity window.
func (c *APIClient) RequirementsToken(ctx context.Context) (string, error) {
	if tok, ok := c.reqTokens.Get("requirements"); ok {
		return tok, nil
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := c.doAuthed(ctx, http.MethodPost, "/backend-api/requirements", nil, &out); err != nil {
		return "", wrapOp("api requirements", err)
	}
	if out.Token == "" {
		return "", &Error{Kind: KindBackendUnavailable, Op: "api requirements", Message: "empty requirements token"}
	}
	c.reqTokens.Add("requirements", out.Token)
	return out.Token, nil
}

// ConversationMessage is one message node of a conversation tree.
type ConversationMessage struct {
	ID     string `json:"id"`
	Author struct {
		Role string `json:"role"`
	} `json:"author"`
	Content struct {
		ContentType string            `json:"content_type"`
		Parts       []json.RawMessage `json:"parts"`
	} `json:"content"`
	Metadata map[string]json.RawMessage `json:"metadata"`
}

// ConversationNode is one node of the message tree.
type ConversationNode struct {
	Message  *ConversationMessage `json:"message"`
	Parent   string               `json:"parent"`
	Children []string             `json:"children"`
}

// Conversation is the authoritative record of a conversation.
type Conversation struct {
	Title       string                      `json:"title"`
	Mapping     map[string]ConversationNode `json:"mapping"`
	CurrentNode string                      `json:"current_node"`

	raw []byte
}

// GetConversation fetches a conversation's full message tree.
func (c *APIClient) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	tok, err := c.bearer(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/backend-api/conversation/"+id, nil)
	if err != nil {
		return nil, wrapOp("api conversation", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, wrapOp("api conversation", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &Error{Kind: KindConversationUnavailable, Op: "api conversation", Message: "status 404"}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Kind: KindBackendUnavailable, Op: "api conversation", Message: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, wrapOp("api conversation", err)
	}

	conv := &Conversation{raw: data}
	if err := json.Unmarshal(data, conv); err != nil {
		return nil, wrapOp("api conversation", err)
	}
	return conv, nil
}

// imagePart is the typed shape of an image asset reference inside a
// multimodal message part.
type imagePart struct {
	ContentType  string `json:"content_type"`
	AssetPointer string `json:"asset_pointer"`
	SizeBytes    int64  `json:"size_bytes"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
}

var assetIDRe = regexp.MustCompile(`file-[A-Za-z0-9]{8,}`)

// ImageAssetIDs extracts image asset ids from the conversation. The typed
// multimodal parts are the primary source; a defensive scan over the raw
// tree tolerates schema drift.
func (conv *Conversation) ImageAssetIDs() []string {
	seen := map[string]bool{}
	var ids []string

	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	// Primary: typed image_asset_pointer parts on assistant messages.
	for _, node := range conv.Mapping {
		if node.Message == nil || node.Message.Author.Role != "assistant" {
			continue
		}
		for _, part := range node.Message.Content.Parts {
			var ip imagePart
			if err := json.Unmarshal(part, &ip); err != nil {
				continue
			}
			if ip.ContentType == "image_asset_pointer" {
				add(assetIDRe.FindString(ip.AssetPointer))
			}
		}
	}

	// Secondary: scan the whole raw tree for asset-id-shaped tokens.
	if len(ids) == 0 && len(conv.raw) > 0 {
		matches := assetIDRe.FindAllString(string(conv.raw), -1)
		sort.Strings(matches)
		for _, m := range matches {
			add(m)
		}
	}

	return ids
}

// ResolveAssetURL resolves an asset id to a downloadable content URL.
func (c *APIClient) ResolveAssetURL(ctx context.Context, assetID string) (string, error) {
	var out struct {
		DownloadURL string `json:"download_url"`
	}
	if err := c.doAuthed(ctx, http.MethodGet, "/backend-api/files/"+assetID+"/download", nil, &out); err != nil {
		return "", wrapOp("api asset url", err)
	}
	if out.DownloadURL == "" {
		return "", &Error{Kind: KindNotFound, Op: "api asset url", Message: "no download url for " + assetID}
	}
	return out.DownloadURL, nil
}

// FetchAsset downloads raw asset bytes, capped at maxBytes (0 = no cap).
func (c *APIClient) FetchAsset(ctx context.Context, assetURL string, maxBytes int64) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return nil, "", wrapOp("api fetch asset", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", wrapOp("api fetch asset", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", &Error{Kind: KindBackendUnavailable, Op: "api fetch asset", Message: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	reader := io.Reader(resp.Body)
	if maxBytes > 0 {
		reader = io.LimitReader(resp.Body, maxBytes)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, "", wrapOp("api fetch asset", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
