package stream

import (
	"sync"
)

// Hub topic -> 订阅连接；每个 topic 记住最后一条 payload，新订阅立刻回放
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Conn]struct{}
	last map[string][]byte
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[*Conn]struct{}, 1024),
		last: make(map[string][]byte, 1024),
	}
}

func (h *Hub) Subscribe(c *Conn, topics []string) {
	type snap struct {
		topic string
		data  []byte
	}
	// 记录订阅和取快照在同一把锁里，避免订阅后立刻 publish 却漏掉
	h.mu.Lock()
	snaps := make([]snap, 0, len(topics))
	for _, t := range topics {
		set := h.subs[t]
		if set == nil {
			set = make(map[*Conn]struct{}, 16)
			h.subs[t] = set
		}
		set[c] = struct{}{}
		if b := h.last[t]; b != nil {
			snaps = append(snaps, snap{t, b})
		}
	}
	h.mu.Unlock()

	for _, s := range snaps {
		c.Offer(s.topic, s.data)
	}
}

func (h *Hub) Unsubscribe(c *Conn, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range topics {
		if set := h.subs[t]; set != nil {
			delete(set, c)
			if len(set) == 0 {
				delete(h.subs, t)
			}
		}
	}
}

func (h *Hub) RemoveConn(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, set := range h.subs {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, topic)
		}
	}
}

// Subscribers topic 当前订阅数
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}

// Last topic 最后一条 payload
func (h *Hub) Last(topic string) ([]byte, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	b, ok := h.last[topic]
	return b, ok
}

// Publish 广播给 topic 的所有订阅者。Offer 非阻塞，慢客户端卡不住广播
func (h *Hub) Publish(topic string, payload []byte) {
	cp := make([]byte, len(payload))
	copy(cp, payload)

	h.mu.Lock()
	h.last[topic] = cp
	set := h.subs[topic]
	conns := make([]*Conn, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.Offer(topic, cp)
	}
}
