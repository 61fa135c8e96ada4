package browserd

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// event is one entry of a tab's event stream.
type event struct {
	Type  string `json:"type"`
	TabID string `json:"tab_id"`
	URL   string `json:"url,omitempty"`
	TS    int64  `json:"ts"`
}

// eventHub fans tab events out to websocket subscribers. A slow or dead
// subscriber is dropped rather than blocking the tab's event listener.
type eventHub struct {
	mu   sync.Mutex
	subs map[*websocket.Conn]bool
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[*websocket.Conn]bool)}
}

func (h *eventHub) subscribe(conn *websocket.Conn) {
	h.mu.Lock()
	h.subs[conn] = true
	h.mu.Unlock()
}

func (h *eventHub) unsubscribe(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.subs, conn)
	h.mu.Unlock()
	conn.Close()
}

func (h *eventHub) publish(ev event) {
	ev.TS = time.Now().UnixMilli()

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.subs {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(ev); err != nil {
			delete(h.subs, conn)
			conn.Close()
		}
	}
}

func (h *eventHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.subs {
		conn.Close()
		delete(h.subs, conn)
	}
}
