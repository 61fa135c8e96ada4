package browserd

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	browserapi "github.com/Microck/chatgpt-webui-mcp/internal/browser"
)

// downloadEntry is one page-triggered download tracked for a tab. With the
// allow-and-name behavior Chrome writes the file under the download dir
// using the CDP guid as the filename.
type downloadEntry struct {
	guid     string
	filename string
	url      string
	size     int64
	done     bool
	path     string
}

// tab is one isolated browsing session: its own chromedp context (a fresh
// Chrome target), navigation history, download queue and event stream.
type tab struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc

	downloadDir string
	events      *eventHub

	mu        sync.Mutex
	visited   []string
	downloads []downloadEntry
}

// newTab opens a fresh target on the shared allocator and wires up
// navigation and download tracking before the first action runs.
func newTab(allocCtx context.Context, id, downloadDir string) (*tab, error) {
	ctx, cancel := chromedp.NewContext(allocCtx)

	t := &tab{
		id:          id,
		ctx:         ctx,
		cancel:      cancel,
		downloadDir: downloadDir,
		events:      newEventHub(),
	}

	chromedp.ListenTarget(ctx, t.onTargetEvent)

	if err := os.MkdirAll(downloadDir, 0755); err != nil {
		cancel()
		return nil, fmt.Errorf("download dir: %w", err)
	}

	// Materialize the target and enable download capture.
	if err := chromedp.Run(ctx,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(downloadDir).
			WithEventsEnabled(true),
	); err != nil {
		cancel()
		return nil, fmt.Errorf("open target: %w", err)
	}

	return t, nil
}

func (t *tab) close() {
	t.events.closeAll()
	if t.cancel != nil {
		t.cancel()
	}
	if t.downloadDir != "" {
		os.RemoveAll(t.downloadDir)
	}
}

func (t *tab) onTargetEvent(ev interface{}) {
	switch e := ev.(type) {
	case *page.EventFrameNavigated:
		if e.Frame == nil || e.Frame.ParentID != "" {
			return
		}
		url := e.Frame.URL
		if url == "" || url == "about:blank" {
			return
		}
		t.mu.Lock()
		if n := len(t.visited); n == 0 || t.visited[n-1] != url {
			t.visited = append(t.visited, url)
		}
		t.mu.Unlock()
		t.events.publish(event{Type: "navigated", TabID: t.id, URL: url})
	case *browser.EventDownloadWillBegin:
		t.mu.Lock()
		t.downloads = append(t.downloads, downloadEntry{
			guid:     e.GUID,
			filename: e.SuggestedFilename,
			url:      e.URL,
			path:     filepath.Join(t.downloadDir, e.GUID),
		})
		t.mu.Unlock()
	case *browser.EventDownloadProgress:
		if e.State != browser.DownloadProgressStateCompleted {
			return
		}
		t.mu.Lock()
		var name string
		for i := range t.downloads {
			if t.downloads[i].guid == e.GUID {
				t.downloads[i].done = true
				t.downloads[i].size = int64(e.TotalBytes)
				name = t.downloads[i].filename
			}
		}
		t.mu.Unlock()
		t.events.publish(event{Type: "download", TabID: t.id, URL: name})
	}
}

func (t *tab) navigate(url string) error {
	if err := chromedp.Run(t.ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate failed: %w", err)
	}
	return nil
}

// waitIdle polls document readiness until the page settles or the timeout
// elapses. Timing out is not an error: callers treat idleness as best
// effort and re-snapshot anyway.
func (t *tab) waitIdle(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		var state string
		err := chromedp.Run(t.ctx, chromedp.Evaluate(`document.readyState`, &state))
		if err == nil && state == "complete" {
			return nil
		}
		if err != nil && t.ctx.Err() != nil {
			return err
		}
		if time.Now().After(deadline) {
			return nil
		}
		select {
		case <-t.ctx.Done():
			return t.ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func (t *tab) currentURL() string {
	var url string
	if err := chromedp.Run(t.ctx, chromedp.Location(&url)); err != nil {
		return ""
	}
	return url
}

// snapshotText renders the current accessibility tree.
func (t *tab) snapshotText() (string, error) {
	rawNodes, err := getRawAXTree(t.ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get accessibility tree: %w", err)
	}
	if len(rawNodes) == 0 {
		return "No accessibility tree available", nil
	}
	return renderAXForest(buildAXForest(rawNodes)), nil
}

func (t *tab) click(target string) error {
	if strings.HasPrefix(target, "@e") {
		objID, err := resolveRef(t.ctx, target)
		if err != nil {
			return err
		}
		return chromedp.Run(t.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			_, _, err := runtime.CallFunctionOn(`function() { this.click(); }`).
				WithObjectID(objID).Do(ctx)
			return err
		}))
	}
	if err := chromedp.Run(t.ctx, chromedp.Click(target, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click failed: %w", err)
	}
	return nil
}

// typeText focuses the target and sends the text as key events. Key events
// work for both form fields and contenteditable surfaces.
func (t *tab) typeText(target, text string) error {
	if strings.HasPrefix(target, "@e") {
		objID, err := resolveRef(t.ctx, target)
		if err != nil {
			return err
		}
		if err := chromedp.Run(t.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			_, _, err := runtime.CallFunctionOn(`function() { this.focus(); }`).
				WithObjectID(objID).Do(ctx)
			return err
		})); err != nil {
			return fmt.Errorf("focus failed: %w", err)
		}
	} else {
		if err := chromedp.Run(t.ctx, chromedp.Click(target, chromedp.ByQuery)); err != nil {
			return fmt.Errorf("focus failed: %w", err)
		}
	}
	if err := chromedp.Run(t.ctx, chromedp.KeyEvent(text)); err != nil {
		return fmt.Errorf("type failed: %w", err)
	}
	return nil
}

func (t *tab) press(key string) error {
	if err := chromedp.Run(t.ctx, chromedp.KeyEvent(mapKeyName(key))); err != nil {
		return fmt.Errorf("press failed: %w", err)
	}
	return nil
}

func (t *tab) links() ([]browserapi.Link, error) {
	js := `(() => Array.from(document.querySelectorAll('a[href]')).slice(0, 500).map(a => ({
		url: a.href,
		text: (a.innerText || a.getAttribute('aria-label') || '').trim().slice(0, 200),
	})))()`
	var out []browserapi.Link
	if err := chromedp.Run(t.ctx, chromedp.Evaluate(js, &out)); err != nil {
		return nil, fmt.Errorf("links failed: %w", err)
	}
	return out, nil
}

func (t *tab) visitedURLs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	urls := make([]string, len(t.visited))
	copy(urls, t.visited)
	return urls
}

// pageImages inventories img elements. With inline set each image is
// fetched from inside the page so session cookies apply, then returned
// base64-encoded in the data field.
func (t *tab) pageImages(inline bool) ([]browserapi.PageImage, error) {
	js := `(async () => {
		const imgs = Array.from(document.images).slice(0, 40);
		const out = [];
		for (const img of imgs) {
			const e = {
				src: img.currentSrc || img.src || '',
				alt: img.alt || '',
				width: img.naturalWidth || 0,
				height: img.naturalHeight || 0,
				data: '',
			};
			if (!e.src) continue;
			if (INLINE) {
				try {
					const resp = await fetch(e.src, {credentials: 'include'});
					if (resp.ok) {
						const buf = await resp.arrayBuffer();
						if (buf.byteLength <= 8 * 1024 * 1024) {
							const bytes = new Uint8Array(buf);
							let bin = '';
							for (let i = 0; i < bytes.length; i++) bin += String.fromCharCode(bytes[i]);
							e.data = btoa(bin);
						}
					}
				} catch (err) {}
			}
			out.push(e);
		}
		return out;
	})()`
	js = strings.Replace(js, "INLINE", fmt.Sprintf("%t", inline), 1)

	var out []browserapi.PageImage
	if err := chromedp.Run(t.ctx, chromedp.Evaluate(js, &out,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		})); err != nil {
		return nil, fmt.Errorf("page images failed: %w", err)
	}
	return out, nil
}

// downloadList reports completed downloads. With inline set the file bytes
// are included; with drain set the queue is emptied and files removed.
func (t *tab) downloadList(inline, drain bool) []browserapi.Download {
	t.mu.Lock()
	entries := make([]downloadEntry, len(t.downloads))
	copy(entries, t.downloads)
	if drain {
		t.downloads = nil
	}
	t.mu.Unlock()

	var out []browserapi.Download
	for _, e := range entries {
		if !e.done {
			continue
		}
		d := browserapi.Download{
			Filename: e.filename,
			URL:      e.url,
			MimeType: mime.TypeByExtension(filepath.Ext(e.filename)),
			Size:     e.size,
		}
		if inline {
			if data, err := os.ReadFile(e.path); err == nil {
				d.Data = data
			}
		}
		if drain {
			os.Remove(e.path)
		}
		out = append(out, d)
	}
	return out
}

func (t *tab) screenshot() ([]byte, error) {
	var buf []byte
	if err := chromedp.Run(t.ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return buf, nil
}

func (t *tab) setCookies(cookies []browserapi.Cookie) error {
	return chromedp.Run(t.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			p := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HTTPOnly)
			if c.Path != "" {
				p = p.WithPath(c.Path)
			}
			if err := p.Do(ctx); err != nil {
				return fmt.Errorf("set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	}))
}
