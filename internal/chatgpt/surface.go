package chatgpt

import (
	"context"
	"time"

	"github.com/Microck/chatgpt-webui-mcp/internal/browser"
)

// Surface is the slice of the automation backend the driver and poller
// consume. *browser.Client satisfies it; tests substitute scripted fakes.
type Surface interface {
	CreateTab(ctx context.Context) (string, error)
	DeleteTab(ctx context.Context, tabID string) error
	Navigate(ctx context.Context, tabID, url string) error
	WaitIdle(ctx context.Context, tabID string, timeout time.Duration) error
	Snapshot(ctx context.Context, tabID string) (*browser.Snapshot, error)
	Links(ctx context.Context, tabID string) ([]browser.Link, error)
	VisitedURLs(ctx context.Context, tabID string) ([]string, error)
	Click(ctx context.Context, tabID, target string) error
	Type(ctx context.Context, tabID, target, text string) error
	Press(ctx context.Context, tabID, key string) error
	Downloads(ctx context.Context, tabID string, inline, drain bool) ([]browser.Download, error)
	PageImages(ctx context.Context, tabID string, inline bool) ([]browser.PageImage, error)
	Screenshot(ctx context.Context, tabID string) ([]byte, error)
	SetCookies(ctx context.Context, tabID string, cookies []browser.Cookie) error
	Restart(ctx context.Context) error
}

var _ Surface = (*browser.Client)(nil)

// ConversationAPI is the slice of the backend API the poller's image
// collection consumes.
type ConversationAPI interface {
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ResolveAssetURL(ctx context.Context, assetID string) (string, error)
	FetchAsset(ctx context.Context, assetURL string, maxBytes int64) ([]byte, string, error)
}

var _ ConversationAPI = (*APIClient)(nil)
