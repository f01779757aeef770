// Package transport 定义传输边界：核心消费的抽象帧投递原语。
//
// 每条物理链路（总线侧或网络侧）一个 Transport；
// 核心只依赖此接口，不关心底层是进程内管道还是网络连接。
package transport

import (
	"context"
	"errors"
)

// ErrClosed 传输已关闭
var ErrClosed = errors.New("transport closed")

// Transport 双工帧投递原语
type Transport interface {
	// Receive 阻塞等待下一个完整帧；传输关闭返回 ErrClosed
	Receive(ctx context.Context) ([]byte, error)
	// Send 投递一个完整帧
	Send(data []byte) error
	// Close 关闭传输，唤醒阻塞中的 Receive
	Close() error
}
