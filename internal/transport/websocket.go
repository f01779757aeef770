package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dep2p/go-secure-gateway/pkg/lib/log"
)

var logger = log.Logger("transport")

// ============================================================================
//                              WebSocket 适配
// ============================================================================
//
// 现代网络侧的帧投递适配：每个受保护链路帧对应一条二进制
// WebSocket 消息，消息边界即帧边界。

// WSConn WebSocket 传输适配器
type WSConn struct {
	conn *websocket.Conn

	// gorilla 的写操作不支持并发，发送侧需要串行化
	writeMu sync.Mutex

	closeOnce sync.Once
}

// WrapWS 包装一条已建立的 WebSocket 连接
func WrapWS(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn}
}

// DialWS 拨号对端网关
func DialWS(ctx context.Context, url string) (*WSConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}
	logger.Info("已连接对端网关", "url", url)
	return WrapWS(conn), nil
}

// wsUpgrader 入站升级器
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// AcceptWS 把入站 HTTP 请求升级为 WebSocket 传输
func AcceptWS(w http.ResponseWriter, r *http.Request) (*WSConn, error) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: upgrade: %w", err)
	}
	logger.Info("接受对端网关连接", "remote", conn.RemoteAddr())
	return WrapWS(conn), nil
}

// Receive 实现 Transport
func (c *WSConn) Receive(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
	} else {
		_ = c.conn.SetReadDeadline(time.Time{})
	}

	msgType, data, err := c.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("transport: read: %w", err)
	}
	if msgType != websocket.BinaryMessage {
		return nil, fmt.Errorf("transport: unexpected message type %d", msgType)
	}
	return data, nil
}

// Send 实现 Transport
func (c *WSConn) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

// Close 实现 Transport
func (c *WSConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
