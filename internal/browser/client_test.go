package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Microck/chatgpt-webui-mcp/internal/config"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfig()
	cfg.Browser.BaseURL = srv.URL
	cfg.Browser.SnapshotMaxChunks = 3
	return NewClient(cfg)
}

func TestCreateAndDeleteTab(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/tabs", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"tab_id": "tab-1"})
	})
	mux.HandleFunc("DELETE /v1/tabs/tab-1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	c := testClient(t, mux)
	ctx := context.Background()

	id, err := c.CreateTab(ctx)
	if err != nil {
		t.Fatalf("CreateTab: %v", err)
	}
	if id != "tab-1" {
		t.Errorf("tab id = %q, want tab-1", id)
	}
	if err := c.DeleteTab(ctx, id); err != nil {
		t.Errorf("DeleteTab: %v", err)
	}
}

func TestDeleteTabIdempotent(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such tab", http.StatusNotFound)
	}))

	if err := c.DeleteTab(context.Background(), "gone"); err != nil {
		t.Errorf("DeleteTab on unknown tab should not error, got %v", err)
	}
}

func TestSnapshotChunking(t *testing.T) {
	chunks := []string{"line one\n", "line two\n", "line three\n"}
	var requests []int

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/tabs/t/snapshot", func(w http.ResponseWriter, r *http.Request) {
		offset := 0
		fmt.Sscanf(r.URL.Query().Get("offset"), "%d", &offset)
		requests = append(requests, offset)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"url":         "https://chatgpt.com/c/abc",
			"text":        chunks[offset],
			"has_more":    offset < len(chunks)-1,
			"next_offset": offset + 1,
		})
	})

	c := testClient(t, mux)
	snap, err := c.Snapshot(context.Background(), "t")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	if snap.Text != "line one\nline two\nline three\n" {
		t.Errorf("joined text = %q", snap.Text)
	}
	if snap.URL != "https://chatgpt.com/c/abc" {
		t.Errorf("url = %q", snap.URL)
	}
	if snap.Truncated {
		t.Error("snapshot should not be truncated")
	}
	if len(requests) != 3 {
		t.Errorf("made %d chunk requests, want 3", len(requests))
	}
}

func TestSnapshotChunkBound(t *testing.T) {
	// Backend always claims more content; the client must stop at the bound.
	calls := 0
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]interface{}{
			"text":        "x",
			"has_more":    true,
			"next_offset": calls,
		})
	}))

	snap, err := c.Snapshot(context.Background(), "t")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if calls != 3 {
		t.Errorf("made %d requests, want max chunks 3", calls)
	}
	if !snap.Truncated {
		t.Error("snapshot should be marked truncated")
	}
}

func TestClickTypePressPayloads(t *testing.T) {
	var got struct {
		path string
		body map[string]string
	}
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&got.body)
		w.WriteHeader(http.StatusOK)
	}))
	ctx := context.Background()

	if err := c.Click(ctx, "t", "@e4"); err != nil {
		t.Fatalf("Click: %v", err)
	}
	if got.path != "/v1/tabs/t/click" || got.body["target"] != "@e4" {
		t.Errorf("click request = %+v", got)
	}

	if err := c.Type(ctx, "t", "#prompt-textarea", "hello"); err != nil {
		t.Fatalf("Type: %v", err)
	}
	if got.path != "/v1/tabs/t/type" || got.body["text"] != "hello" {
		t.Errorf("type request = %+v", got)
	}

	if err := c.Press(ctx, "t", "Enter"); err != nil {
		t.Fatalf("Press: %v", err)
	}
	if got.path != "/v1/tabs/t/press" || got.body["key"] != "Enter" {
		t.Errorf("press request = %+v", got)
	}
}

func TestWaitIdleTimeoutMs(t *testing.T) {
	var body map[string]int64
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
	}))

	if err := c.WaitIdle(context.Background(), "t", 2*time.Second); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
	if body["timeout_ms"] != 2000 {
		t.Errorf("timeout_ms = %d, want 2000", body["timeout_ms"])
	}
}

func TestScreenshotDecodesBase64(t *testing.T) {
	payload := []byte{0x89, 'P', 'N', 'G'}
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"data": base64.StdEncoding.EncodeToString(payload),
		})
	}))

	data, err := c.Screenshot(context.Background(), "t")
	if err != nil {
		t.Fatalf("Screenshot: %v", err)
	}
	if string(data) != string(payload) {
		t.Errorf("screenshot bytes = %v", data)
	}
}

func TestBackendErrorSurfaced(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "tab crashed", http.StatusInternalServerError)
	}))

	err := c.Navigate(context.Background(), "t", "https://chatgpt.com")
	if err == nil {
		t.Fatal("expected error")
	}
	if want := "navigate: backend returned 500: tab crashed"; err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func TestDownloadsQuery(t *testing.T) {
	var query string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		json.NewEncoder(w).Encode(map[string]interface{}{
			"downloads": []Download{{Filename: "img.png", URL: "https://files/img.png"}},
		})
	}))

	dls, err := c.Downloads(context.Background(), "t", true, true)
	if err != nil {
		t.Fatalf("Downloads: %v", err)
	}
	if query != "inline=true&drain=true" {
		t.Errorf("query = %q", query)
	}
	if len(dls) != 1 || dls[0].Filename != "img.png" {
		t.Errorf("downloads = %+v", dls)
	}
}
