package chatgpt

import (
	"context"
	"encoding/base64"
	"log"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/Microck/chatgpt-webui-mcp/internal/config"
	"github.com/Microck/chatgpt-webui-mcp/internal/snapshot"
)

// Collector recovers image artifacts once a run has settled. It is a
// fallback chain: each step's failure is non-fatal, and only total
// exhaustion yields no artifacts. Image absence is reported, not thrown.
type Collector struct {
	surface Surface
	api     ConversationAPI
	cfg     *config.Config
}

// NewCollector creates an image collector.
func NewCollector(surface Surface, api ConversationAPI, cfg *config.Config) *Collector {
	return &Collector{surface: surface, api: api, cfg: cfg}
}

var urlInTextRe = regexp.MustCompile(`https?://[^\s"']+`)

// Collect tries each recovery step in order until one yields artifacts.
func (c *Collector) Collect(ctx context.Context, tabID, conversationID string) []ImageArtifact {
	steps := []struct {
		name string
		run  func(context.Context, string, string) []ImageArtifact
	}{
		{"conversation record", c.fromConversation},
		{"link inventory", c.fromLinks},
		{"page images", c.fromPageImages},
		{"download queue", c.fromDownloads},
		{"download click", c.fromDownloadClick},
		{"screenshot", c.fromScreenshot},
	}

	for _, step := range steps {
		artifacts := step.run(ctx, tabID, conversationID)
		if len(artifacts) > 0 {
			log.Printf("[images] %s yielded %d artifact(s)", step.name, len(artifacts))
			return artifacts
		}
	}
	log.Printf("[images] all collection steps exhausted, no artifacts")
	return nil
}

// fromConversation fetches the authoritative conversation record and
// downloads its image asset references.
func (c *Collector) fromConversation(ctx context.Context, tabID, conversationID string) []ImageArtifact {
	if conversationID == "" || c.api == nil {
		return nil
	}

	conv, err := c.api.GetConversation(ctx, conversationID)
	if err != nil {
		log.Printf("[images] conversation fetch failed: %v", err)
		return nil
	}

	var artifacts []ImageArtifact
	for _, assetID := range conv.ImageAssetIDs() {
		art := ImageArtifact{AssetPointer: assetID}

		url, err := c.api.ResolveAssetURL(ctx, assetID)
		if err != nil {
			log.Printf("[images] asset url for %s failed: %v", assetID, err)
			continue
		}
		art.SourceURL = url

		data, mime, err := c.api.FetchAsset(ctx, url, int64(c.cfg.Images.MaxInlineBytes))
		if err != nil {
			log.Printf("[images] asset download for %s failed: %v", assetID, err)
			// Keep the reference; the URL alone is still useful.
			artifacts = append(artifacts, art)
			continue
		}
		art.MimeType = mime
		art.ByteSize = int64(len(data))
		if len(data) <= c.cfg.Images.MaxInlineBytes {
			art.InlineData = data
		}
		artifacts = append(artifacts, art)
	}
	return artifacts
}

// fromLinks collects plausible image links from the page's link inventory
// and the rendered snapshot text.
func (c *Collector) fromLinks(ctx context.Context, tabID, conversationID string) []ImageArtifact {
	seen := map[string]bool{}
	var artifacts []ImageArtifact

	add := func(url string) {
		if url == "" || seen[url] || !imageAssetURLRe.MatchString(url) {
			return
		}
		seen[url] = true
		artifacts = append(artifacts, ImageArtifact{SourceURL: url})
	}

	if links, err := c.surface.Links(ctx, tabID); err == nil {
		for _, l := range links {
			add(l.URL)
		}
	}
	if snap, err := c.surface.Snapshot(ctx, tabID); err == nil {
		for _, u := range urlInTextRe.FindAllString(snap.Text, -1) {
			add(strings.TrimRight(u, ".,)"))
		}
	}
	return artifacts
}

// fromPageImages inspects in-page image elements, scoring candidates by
// alt text and source host and preferring non-zero scores.
func (c *Collector) fromPageImages(ctx context.Context, tabID, conversationID string) []ImageArtifact {
	images, err := c.surface.PageImages(ctx, tabID, true)
	if err != nil {
		log.Printf("[images] page images failed: %v", err)
		return nil
	}

	type scored struct {
		score int
		art   ImageArtifact
	}
	var candidates []scored

	for _, img := range images {
		if img.Src == "" {
			continue
		}
		score := 0
		alt := strings.ToLower(img.Alt)
		if strings.Contains(alt, "generated image") || strings.Contains(alt, "dall") {
			score += 2
		} else if strings.Contains(alt, "image") {
			score++
		}
		if imageAssetURLRe.MatchString(img.Src) {
			score += 2
		}
		// Tiny elements are icons, not results.
		if img.Width > 0 && img.Width < 64 && img.Height > 0 && img.Height < 64 {
			score -= 2
		}

		art := ImageArtifact{SourceURL: img.Src}
		if len(img.Data) > 0 && len(img.Data) <= c.cfg.Images.MaxInlineBytes {
			art.InlineData = img.Data
			art.ByteSize = int64(len(img.Data))
		}
		candidates = append(candidates, scored{score: score, art: art})
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	var artifacts []ImageArtifact
	for _, cand := range candidates {
		if cand.score <= 0 {
			break
		}
		artifacts = append(artifacts, cand.art)
	}
	return artifacts
}

var imageMimeRe = regexp.MustCompile(`(?i)^image/`)
var imageFileRe = regexp.MustCompile(`(?i)\.(png|jpe?g|gif|webp)$`)

// fromDownloads checks the queue of page-triggered downloads.
func (c *Collector) fromDownloads(ctx context.Context, tabID, conversationID string) []ImageArtifact {
	downloads, err := c.surface.Downloads(ctx, tabID, true, true)
	if err != nil {
		return nil
	}

	var artifacts []ImageArtifact
	for _, dl := range downloads {
		if !imageMimeRe.MatchString(dl.MimeType) && !imageFileRe.MatchString(dl.Filename) {
			continue
		}
		art := ImageArtifact{SourceURL: dl.URL, MimeType: dl.MimeType, ByteSize: dl.Size}
		if art.SourceURL == "" {
			art.SourceURL = dl.Filename
		}
		if len(dl.Data) > 0 && len(dl.Data) <= c.cfg.Images.MaxInlineBytes {
			art.InlineData = dl.Data
		}
		artifacts = append(artifacts, art)
	}
	return artifacts
}

var downloadButtonRe = regexp.MustCompile(`(?i)^download( (this )?image)?$`)

// fromDownloadClick clicks an explicit download affordance and re-checks
// the queue.
func (c *Collector) fromDownloadClick(ctx context.Context, tabID, conversationID string) []ImageArtifact {
	snap, err := c.surface.Snapshot(ctx, tabID)
	if err != nil {
		return nil
	}
	page := snapshot.Parse(snap.Text)
	ref, ok := page.Ref("button", downloadButtonRe)
	if !ok {
		return nil
	}
	if err := c.surface.Click(ctx, tabID, ref); err != nil {
		return nil
	}

	select {
	case <-ctx.Done():
		return nil
	case <-time.After(2 * time.Second):
	}
	return c.fromDownloads(ctx, tabID, conversationID)
}

// fromScreenshot is the config-gated last resort: a bounded-size capture
// of whatever is on screen.
func (c *Collector) fromScreenshot(ctx context.Context, tabID, conversationID string) []ImageArtifact {
	if !c.cfg.Images.ScreenshotFallback {
		return nil
	}
	data, err := c.surface.Screenshot(ctx, tabID)
	if err != nil || len(data) == 0 {
		return nil
	}
	if len(data) > c.cfg.Images.MaxInlineBytes {
		data = data[:c.cfg.Images.MaxInlineBytes]
	}
	return []ImageArtifact{{
		SourceURL:  "screenshot://" + tabID,
		MimeType:   "image/png",
		ByteSize:   int64(len(data)),
		InlineData: data,
	}}
}

// dataURL renders the first inline artifact as a data URL for callers that
// want a single embeddable image.
func dataURL(artifacts []ImageArtifact) string {
	for _, a := range artifacts {
		if len(a.InlineData) == 0 {
			continue
		}
		mime := a.MimeType
		if mime == "" {
			mime = "image/png"
		}
		return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(a.InlineData)
	}
	return ""
}
