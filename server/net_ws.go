package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"movesync/protocol"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxFrame   = 64 << 10
)

// ClientConn 负责发送（写）数据到客户端的轻量包装
type ClientConn struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
	log  *zap.SugaredLogger
}

func NewClientConn(ws *websocket.Conn, queue int, log *zap.SugaredLogger) *ClientConn {
	if queue <= 0 {
		queue = 64
	}
	return &ClientConn{
		ws:   ws,
		send: make(chan []byte, queue),
		done: make(chan struct{}),
		log:  log,
	}
}

// Enqueue 将要发送的消息压入队列（非阻塞，满则丢弃）；已关闭或丢弃时返回 false
func (c *ClientConn) Enqueue(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		// 为了实时性，丢弃新消息（防止阻塞 Tick）
		return false
	}
}

// Close 通知写协程退出并关闭底层连接；可重复调用。
// send 通道不关闭，避免与 Enqueue 竞争。
func (c *ClientConn) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// writePump 独立协程，负责从 send 队列写出到 WS，并定期发送 ping
func (c *ClientConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				c.log.Debugf("write: %v", err)
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// readPump 读取客户端二进制帧交给房间；退出时玩家离开房间
func (c *ClientConn) readPump(room *Room, id protocol.ConnID) {
	defer room.LeavePlayer(id)
	c.ws.SetReadLimit(maxFrame)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error { return c.ws.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		mt, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debugf("read: %v", err)
			}
			return
		}
		if mt != websocket.BinaryMessage {
			room.metrics.IncMalformed()
			continue
		}
		room.OnMessage(id, payload)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 演示环境：允许所有来源（生产环境需严格限制）
		return true
	},
}

// HandleWS WebSocket 接入：?room=room-1，玩家 ID 由服务端分配
func (m *Manager) HandleWS(w http.ResponseWriter, r *http.Request) {
	room, err := m.GetOrCreateRoom(roomParam(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Warnf("upgrade error: %v", err)
		return
	}

	client := NewClientConn(ws, m.cfg.SendQueue, m.log.With("room", room.ID))
	p := room.JoinPlayer(client)
	client.log = client.log.With("player", uint64(p.ID))

	go client.writePump()
	go client.readPump(room, p.ID)
}

func roomParam(r *http.Request) string {
	id := r.URL.Query().Get("room")
	if id == "" {
		id = DefaultRoom
	}
	return id
}
