package transport

import (
	"context"
	"sync"
)

// ============================================================================
//                              进程内管道
// ============================================================================

// Pipe 进程内传输端点，用于测试与回环模拟
type Pipe struct {
	recv chan []byte
	send chan []byte

	closeOnce *sync.Once
	closed    chan struct{}
}

// NewPair 构建一对互联的管道端点
//
// 一端 Send 的帧从另一端 Receive 出来，buffer 为每方向缓冲帧数。
func NewPair(buffer int) (*Pipe, *Pipe) {
	ab := make(chan []byte, buffer)
	ba := make(chan []byte, buffer)
	closed := make(chan struct{})
	once := &sync.Once{}

	a := &Pipe{recv: ba, send: ab, closed: closed, closeOnce: once}
	b := &Pipe{recv: ab, send: ba, closed: closed, closeOnce: once}
	return a, b
}

// Receive 实现 Transport
func (p *Pipe) Receive(ctx context.Context) ([]byte, error) {
	select {
	case data := <-p.recv:
		return data, nil
	case <-p.closed:
		// 排空已缓冲的帧后才报告关闭
		select {
		case data := <-p.recv:
			return data, nil
		default:
			return nil, ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send 实现 Transport
func (p *Pipe) Send(data []byte) error {
	out := append([]byte(nil), data...)
	select {
	case p.send <- out:
		return nil
	case <-p.closed:
		return ErrClosed
	}
}

// Close 实现 Transport；关闭对两端同时生效
func (p *Pipe) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}
