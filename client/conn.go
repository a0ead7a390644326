package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"movesync/protocol"
)

const writeWait = 5 * time.Second

// Handlers 入站消息回调，未设置的类型被忽略
type Handlers struct {
	Welcome    func(protocol.Welcome)
	Snapshot   func(protocol.Snapshot)
	Correction func(protocol.Correction)
}

// Conn 客户端到服务端的 WebSocket 连接
type Conn struct {
	ws  *websocket.Conn
	log *zap.SugaredLogger

	writeMu sync.Mutex
}

// Dial 连接服务端 /ws 端点并加入指定房间
func Dial(ctx context.Context, rawURL, room string, log *zap.SugaredLogger) (*Conn, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if room != "" {
		q := u.Query()
		q.Set("room", room)
		u.RawQuery = q.Encode()
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}
	return &Conn{ws: ws, log: log}, nil
}

// SendBatch 实现 BatchSender
func (c *Conn) SendBatch(b protocol.CommandBatch) error {
	data, err := protocol.EncodeCommands(b)
	if err != nil {
		return err
	}
	return c.write(data)
}

// SendProposal 发送位置提议（反作弊路径）
func (c *Conn) SendProposal(p protocol.Proposal) error {
	data, err := protocol.EncodeProposal(p)
	if err != nil {
		return err
	}
	return c.write(data)
}

func (c *Conn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.BinaryMessage, data)
}

// ReadLoop 读取并分发消息直到连接关闭或 ctx 取消；非法帧记录后跳过
func (c *Conn) ReadLoop(ctx context.Context, h Handlers) error {
	stop := context.AfterFunc(ctx, func() { _ = c.ws.Close() })
	defer stop()

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		msg, err := protocol.Decode(payload)
		if err != nil {
			c.log.Debugf("drop inbound frame: %v", err)
			continue
		}
		switch msg.Kind {
		case protocol.KindWelcome:
			if h.Welcome != nil {
				h.Welcome(*msg.Welcome)
			}
		case protocol.KindSnapshot:
			if h.Snapshot != nil {
				h.Snapshot(*msg.Snapshot)
			}
		case protocol.KindCorrection:
			if h.Correction != nil {
				h.Correction(*msg.Correction)
			}
		default:
			c.log.Debugf("unexpected %s from server", msg.Kind)
		}
	}
}

// Close 发送关闭帧并断开
func (c *Conn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.ws.Close()
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}
