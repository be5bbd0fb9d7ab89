package stream

import (
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// Conn 每个 topic 只保留最新一条（LatestOnly），写协程被 notify 唤醒后批量取走
type Conn struct {
	id  string
	ws  *websocket.Conn
	hub *Hub

	mu     sync.Mutex
	latest map[string][]byte
	order  []string      // latest 里 topic 的到达顺序
	notify chan struct{} // 缓冲 1，多次唤醒合并
	done   chan struct{}
	closed atomic.Bool
}

func NewConn(id string, h *Hub, ws *websocket.Conn) *Conn {
	return &Conn{
		id:     id,
		ws:     ws,
		hub:    h,
		latest: make(map[string][]byte, 64),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

// Offer payload 不会被修改，调用方保证只读
func (c *Conn) Offer(topic string, payload []byte) bool {
	if c.closed.Load() {
		return false
	}
	c.mu.Lock()
	if _, ok := c.latest[topic]; !ok {
		c.order = append(c.order, topic)
	}
	c.latest[topic] = payload
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return true
}

// flushLatest 按 topic 首次到达的顺序取走最多 max 条；取不完的下次再唤醒
func (c *Conn) flushLatest(max int) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.order) == 0 {
		return nil
	}
	n := min(len(c.order), max)
	out := make([][]byte, 0, n)
	for _, topic := range c.order[:n] {
		out = append(out, c.latest[topic])
		delete(c.latest, topic)
	}
	c.order = append(c.order[:0], c.order[n:]...)
	if len(c.order) > 0 {
		select {
		case c.notify <- struct{}{}:
		default:
		}
	}
	return out
}

func (c *Conn) close() {
	if c.closed.CompareAndSwap(false, true) {
		c.hub.RemoveConn(c)
		close(c.done)
		_ = c.ws.Close()
	}
}
