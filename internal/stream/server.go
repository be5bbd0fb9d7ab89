package stream

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"matchcore.com/pkg/logger"
	"matchcore.com/pkg/metrics"
	"matchcore.com/pkg/safe"
)

const maxFlush = 256 // 单次最多写多少条，订阅 topic 很多时不一次写爆

type Options struct {
	PongWait   time.Duration `mapstructure:"pong_wait"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PingJitter time.Duration `mapstructure:"ping_jitter"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	// 为空不校验 Origin
	AllowOrigins []string `mapstructure:"allow_origins"`
}

func (o *Options) withDefaults() {
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait / 2
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 10
	}
}

type Server struct {
	hub      *Hub
	ctx      context.Context
	opts     Options
	upgrader websocket.Upgrader
}

func NewServer(ctx context.Context, h *Hub, opts Options) *Server {
	opts.withDefaults()
	s := &Server{hub: h, ctx: ctx, opts: opts}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.opts.AllowOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已经写了错误响应
		logger.Debug(r.Context(), "ws upgrade failed", zap.Error(err))
		return
	}
	c := NewConn(uuid.NewString(), s.hub, wsConn)
	metrics.WSOnOpen()
	logger.Debug(s.ctx, "ws conn open", zap.String("conn", c.id), zap.String("remote", r.RemoteAddr))

	safe.GoNamed("ws-write:"+c.id, func() { s.writePump(c) })
	safe.GoNamed("ws-read:"+c.id, func() { s.readPump(c) })
}

func (s *Server) readPump(c *Conn) {
	code, reason := websocket.CloseAbnormalClosure, "read_error"
	defer func() {
		c.close()
		metrics.WSOnClose(code, reason)
	}()

	c.ws.SetReadLimit(s.opts.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	for {
		_, b, err := c.ws.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			var ne net.Error
			switch {
			case errors.As(err, &ce):
				code, reason = ce.Code, "client_close"
			case errors.As(err, &ne) && ne.Timeout():
				reason = "pong_timeout"
			case s.ctx.Err() != nil:
				code, reason = websocket.CloseGoingAway, "shutdown"
			}
			logger.Debug(s.ctx, "ws conn closed", zap.String("conn", c.id),
				zap.String("reason", reason), zap.Error(err))
			return
		}
		var msg ClientMsg
		if json.Unmarshal(b, &msg) != nil {
			metrics.WSSubOpsTotal.WithLabelValues("bad").Inc()
			continue
		}
		switch msg.Type {
		case "sub":
			metrics.WSSubOpsTotal.WithLabelValues("sub").Inc()
			c.hub.Subscribe(c, msg.Topics)
		case "unsub":
			metrics.WSSubOpsTotal.WithLabelValues("unsub").Inc()
			c.hub.Unsubscribe(c, msg.Topics)
		default:
			metrics.WSSubOpsTotal.WithLabelValues("bad").Inc()
		}
	}
}

func (s *Server) writePump(c *Conn) {
	// 错开各连接的 ping
	if s.opts.PingJitter > 0 {
		t := time.NewTimer(rand.N(s.opts.PingJitter))
		select {
		case <-t.C:
		case <-c.done:
			t.Stop()
			return
		case <-s.ctx.Done():
			t.Stop()
			c.close()
			return
		}
	}

	ticker := time.NewTicker(s.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.notify:
			batch := c.flushLatest(maxFlush)
			if len(batch) == 0 {
				continue
			}
			if err := s.writeBatch(c, batch); err != nil {
				logger.Debug(s.ctx, "ws write failed", zap.String("conn", c.id), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.opts.WriteWait)); err != nil {
				metrics.WSPingErrorsTotal.Inc()
				return
			}
		case <-c.done:
			return
		case <-s.ctx.Done():
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
				time.Now().Add(s.opts.WriteWait))
			return
		}
	}
}

// writeBatch 一个 frame 写完一批，多条 JSON 用换行分隔
func (s *Server) writeBatch(c *Conn, batch [][]byte) (err error) {
	start := time.Now()
	n := 0
	defer func() { metrics.WSObserveWrite(len(batch), n, time.Since(start), err) }()

	_ = c.ws.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
	w, err := c.ws.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	for i, payload := range batch {
		if i > 0 {
			if _, err = w.Write([]byte{'\n'}); err != nil {
				_ = w.Close()
				return err
			}
			n++
		}
		if _, err = w.Write(payload); err != nil {
			_ = w.Close()
			return err
		}
		n += len(payload)
	}
	return w.Close()
}
