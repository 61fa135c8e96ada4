// Package browserd is the browser automation backend: an HTTP daemon that
// drives a Chrome instance over CDP and exposes tab-scoped operations
// (snapshots, clicks, typing, downloads, screenshots) to the MCP server's
// browser client.
package browserd

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/chromedp/chromedp"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	browserapi "github.com/Microck/chatgpt-webui-mcp/internal/browser"
	"github.com/Microck/chatgpt-webui-mcp/internal/config"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is the backend daemon. It connects lazily to Chrome's DevTools
// endpoint and opens one fresh target per tab so sessions never share
// page state.
type Server struct {
	cfg *config.Config

	mu          sync.Mutex
	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabs        map[string]*tab

	httpSrv *http.Server
}

// New creates a backend daemon for the given config.
func New(cfg *config.Config) *Server {
	return &Server{
		cfg:  cfg,
		tabs: make(map[string]*tab),
	}
}

// Run serves the HTTP API until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:    s.cfg.Browserd.Listen,
		Handler: s.router(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[browserd] listening on %s (cdp %s)", s.cfg.Browserd.Listen, s.cfg.Browserd.CDPURL)
		if err := s.httpSrv.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		log.Printf("[browserd] shutting down")
		s.closeAllTabs()
		s.dropAllocator()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpSrv.Shutdown(shutCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Post("/v1/restart", s.handleRestart)

	r.Route("/v1/tabs", func(r chi.Router) {
		r.Post("/", s.handleCreateTab)
		r.Route("/{tabID}", func(r chi.Router) {
			r.Delete("/", s.handleDeleteTab)
			r.Post("/navigate", s.withTab(s.handleNavigate))
			r.Post("/wait-idle", s.withTab(s.handleWaitIdle))
			r.Get("/snapshot", s.withTab(s.handleSnapshot))
			r.Get("/links", s.withTab(s.handleLinks))
			r.Get("/visited", s.withTab(s.handleVisited))
			r.Post("/click", s.withTab(s.handleClick))
			r.Post("/type", s.withTab(s.handleType))
			r.Post("/press", s.withTab(s.handlePress))
			r.Get("/downloads", s.withTab(s.handleDownloads))
			r.Get("/images", s.withTab(s.handleImages))
			r.Get("/screenshot", s.withTab(s.handleScreenshot))
			r.Post("/cookies", s.withTab(s.handleCookies))
			r.Get("/events", s.withTab(s.handleEvents))
		})
	})

	return r
}

// ensureAllocator discovers Chrome's websocket debugger URL and builds the
// shared remote allocator. Connection is lazy so the daemon can start
// before Chrome does.
func (s *Server) ensureAllocator() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.allocCtx != nil {
		return s.allocCtx, nil
	}

	wsURL, err := s.discoverWSURL()
	if err != nil {
		return nil, fmt.Errorf("chrome not reachable at %s: %w", s.cfg.Browserd.CDPURL, err)
	}

	s.allocCtx, s.allocCancel = chromedp.NewRemoteAllocator(context.Background(), wsURL)
	log.Printf("[browserd] connected to chrome at %s", wsURL)
	return s.allocCtx, nil
}

func (s *Server) discoverWSURL() (string, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(s.cfg.Browserd.CDPURL + "/json/version")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var data struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", err
	}
	if data.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("empty webSocketDebuggerUrl")
	}
	return data.WebSocketDebuggerURL, nil
}

func (s *Server) dropAllocator() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.allocCancel != nil {
		s.allocCancel()
		s.allocCancel = nil
	}
	s.allocCtx = nil
}

func (s *Server) closeAllTabs() {
	s.mu.Lock()
	tabs := s.tabs
	s.tabs = make(map[string]*tab)
	s.mu.Unlock()

	for _, t := range tabs {
		t.close()
	}
}

func (s *Server) lookupTab(id string) *tab {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tabs[id]
}

func (s *Server) downloadRoot() string {
	if s.cfg.Browserd.DownloadDir != "" {
		return s.cfg.Browserd.DownloadDir
	}
	return filepath.Join(os.TempDir(), "chatgpt-mcp-downloads")
}

// withTab resolves the tabID path param before the handler runs.
func (s *Server) withTab(h func(w http.ResponseWriter, r *http.Request, t *tab)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t := s.lookupTab(chi.URLParam(r, "tabID"))
		if t == nil {
			sendError(w, http.StatusNotFound, "unknown tab")
			return
		}
		h(w, r, t)
	}
}

// =============================================================================
// Handlers
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	n := len(s.tabs)
	connected := s.allocCtx != nil
	s.mu.Unlock()
	sendJSON(w, map[string]interface{}{
		"status":    "ok",
		"tabs":      n,
		"connected": connected,
	})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	log.Printf("[browserd] restart requested, dropping chrome connection")
	s.closeAllTabs()
	s.dropAllocator()
	sendJSON(w, map[string]interface{}{"restarted": true})
}

func (s *Server) handleCreateTab(w http.ResponseWriter, r *http.Request) {
	allocCtx, err := s.ensureAllocator()
	if err != nil {
		sendError(w, http.StatusBadGateway, err.Error())
		return
	}

	id := uuid.NewString()
	t, err := newTab(allocCtx, id, filepath.Join(s.downloadRoot(), id))
	if err != nil {
		// A dead Chrome connection surfaces here. Drop the allocator so
		// the next attempt reconnects.
		s.dropAllocator()
		sendError(w, http.StatusBadGateway, fmt.Sprintf("create tab: %v", err))
		return
	}

	s.mu.Lock()
	s.tabs[id] = t
	s.mu.Unlock()

	log.Printf("[browserd] tab %s opened", id)
	sendJSON(w, map[string]string{"tab_id": id})
}

func (s *Server) handleDeleteTab(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tabID")

	s.mu.Lock()
	t := s.tabs[id]
	delete(s.tabs, id)
	s.mu.Unlock()

	if t == nil {
		sendError(w, http.StatusNotFound, "unknown tab")
		return
	}
	t.close()
	log.Printf("[browserd] tab %s closed", id)
	sendJSON(w, map[string]interface{}{"deleted": true})
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request, t *tab) {
	var body struct {
		URL string `json:"url"`
	}
	if err := decodeBody(r, &body); err != nil || body.URL == "" {
		sendError(w, http.StatusBadRequest, "url required")
		return
	}
	if err := t.navigate(body.URL); err != nil {
		sendError(w, http.StatusBadGateway, err.Error())
		return
	}
	sendJSON(w, map[string]interface{}{"navigated": body.URL})
}

func (s *Server) handleWaitIdle(w http.ResponseWriter, r *http.Request, t *tab) {
	var body struct {
		TimeoutMs int64 `json:"timeout_ms"`
	}
	if err := decodeBody(r, &body); err != nil {
		sendError(w, http.StatusBadRequest, "invalid body")
		return
	}
	timeout := time.Duration(body.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if err := t.waitIdle(timeout); err != nil {
		sendError(w, http.StatusBadGateway, err.Error())
		return
	}
	sendJSON(w, map[string]interface{}{"idle": true})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request, t *tab) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	text, err := t.snapshotText()
	if err != nil {
		sendError(w, http.StatusBadGateway, err.Error())
		return
	}

	chunk, hasMore, next := paginate(text, offset, s.cfg.Browserd.SnapshotChunkBytes)
	sendJSON(w, map[string]interface{}{
		"url":         t.currentURL(),
		"text":        chunk,
		"has_more":    hasMore,
		"next_offset": next,
	})
}

func (s *Server) handleLinks(w http.ResponseWriter, r *http.Request, t *tab) {
	links, err := t.links()
	if err != nil {
		sendError(w, http.StatusBadGateway, err.Error())
		return
	}
	if links == nil {
		links = []browserapi.Link{}
	}
	sendJSON(w, map[string]interface{}{"links": links})
}

func (s *Server) handleVisited(w http.ResponseWriter, r *http.Request, t *tab) {
	urls := t.visitedURLs()
	if urls == nil {
		urls = []string{}
	}
	sendJSON(w, map[string]interface{}{"urls": urls})
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request, t *tab) {
	var body struct {
		Target string `json:"target"`
	}
	if err := decodeBody(r, &body); err != nil || body.Target == "" {
		sendError(w, http.StatusBadRequest, "target required")
		return
	}
	if err := t.click(body.Target); err != nil {
		sendError(w, http.StatusBadGateway, err.Error())
		return
	}
	sendJSON(w, map[string]interface{}{"clicked": body.Target})
}

func (s *Server) handleType(w http.ResponseWriter, r *http.Request, t *tab) {
	var body struct {
		Target string `json:"target"`
		Text   string `json:"text"`
	}
	if err := decodeBody(r, &body); err != nil || body.Target == "" {
		sendError(w, http.StatusBadRequest, "target required")
		return
	}
	if err := t.typeText(body.Target, body.Text); err != nil {
		sendError(w, http.StatusBadGateway, err.Error())
		return
	}
	sendJSON(w, map[string]interface{}{"typed": body.Target})
}

func (s *Server) handlePress(w http.ResponseWriter, r *http.Request, t *tab) {
	var body struct {
		Key string `json:"key"`
	}
	if err := decodeBody(r, &body); err != nil || body.Key == "" {
		sendError(w, http.StatusBadRequest, "key required")
		return
	}
	if err := t.press(body.Key); err != nil {
		sendError(w, http.StatusBadGateway, err.Error())
		return
	}
	sendJSON(w, map[string]interface{}{"pressed": body.Key})
}

func (s *Server) handleDownloads(w http.ResponseWriter, r *http.Request, t *tab) {
	inline := r.URL.Query().Get("inline") == "true"
	drain := r.URL.Query().Get("drain") == "true"
	downloads := t.downloadList(inline, drain)
	if downloads == nil {
		downloads = []browserapi.Download{}
	}
	sendJSON(w, map[string]interface{}{"downloads": downloads})
}

func (s *Server) handleImages(w http.ResponseWriter, r *http.Request, t *tab) {
	inline := r.URL.Query().Get("inline") == "true"
	images, err := t.pageImages(inline)
	if err != nil {
		sendError(w, http.StatusBadGateway, err.Error())
		return
	}
	if images == nil {
		images = []browserapi.PageImage{}
	}
	sendJSON(w, map[string]interface{}{"images": images})
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request, t *tab) {
	data, err := t.screenshot()
	if err != nil {
		sendError(w, http.StatusBadGateway, err.Error())
		return
	}
	sendJSON(w, map[string]string{"data": base64.StdEncoding.EncodeToString(data)})
}

func (s *Server) handleCookies(w http.ResponseWriter, r *http.Request, t *tab) {
	var body struct {
		Cookies []browserapi.Cookie `json:"cookies"`
	}
	if err := decodeBody(r, &body); err != nil || len(body.Cookies) == 0 {
		sendError(w, http.StatusBadRequest, "cookies required")
		return
	}
	if err := t.setCookies(body.Cookies); err != nil {
		sendError(w, http.StatusBadGateway, err.Error())
		return
	}
	sendJSON(w, map[string]interface{}{"set": len(body.Cookies)})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, t *tab) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	t.events.subscribe(conn)

	// Reads only serve to detect the peer going away.
	go func() {
		defer t.events.unsubscribe(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// =============================================================================
// Helpers
// =============================================================================

// paginate slices text for the offset-based snapshot continuation. Cuts
// land on rune boundaries so multi-byte characters never split across
// chunks.
func paginate(text string, offset, chunkBytes int) (chunk string, hasMore bool, nextOffset int) {
	if chunkBytes <= 0 {
		chunkBytes = 64 * 1024
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(text) {
		return "", false, len(text)
	}

	end := offset + chunkBytes
	if end >= len(text) {
		return text[offset:], false, len(text)
	}
	for end > offset && !utf8.RuneStart(text[end]) {
		end--
	}
	if end == offset {
		end = offset + chunkBytes
	}
	return text[offset:end], true, end
}

func decodeBody(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}

func sendJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
