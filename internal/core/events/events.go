// Package events 实现可观测性边界：把核心产生的结构化事件
// 分发给已注册的接收器（日志、遥测、测试探针）。
package events

import (
	"sync"
	"time"

	"github.com/dep2p/go-secure-gateway/pkg/lib/log"
	"github.com/dep2p/go-secure-gateway/pkg/types"
)

var logger = log.Logger("events")

// ============================================================================
//                              Dispatcher - 事件分发器
// ============================================================================

// Dispatcher 把事件扇出到全部已注册接收器
//
// 发布路径只持读锁；接收器注册是低频操作。
type Dispatcher struct {
	mu    sync.RWMutex
	sinks []types.EventSink
}

// NewDispatcher 构建分发器
func NewDispatcher(sinks ...types.EventSink) *Dispatcher {
	return &Dispatcher{sinks: append([]types.EventSink(nil), sinks...)}
}

// Attach 注册接收器
func (d *Dispatcher) Attach(sink types.EventSink) {
	d.mu.Lock()
	d.sinks = append(d.sinks, sink)
	d.mu.Unlock()
}

// Publish 发布事件到全部接收器
func (d *Dispatcher) Publish(ev types.Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	d.mu.RLock()
	sinks := d.sinks
	d.mu.RUnlock()

	for _, s := range sinks {
		s.Publish(ev)
	}
}

// ============================================================================
//                              LogSink - 日志接收器
// ============================================================================

// LogSink 把事件写入结构化日志
type LogSink struct {
	log *log.LazyLogger
}

// NewLogSink 构建日志接收器
func NewLogSink() *LogSink {
	return &LogSink{log: logger}
}

// Publish 实现 types.EventSink
func (s *LogSink) Publish(ev types.Event) {
	attrs := []any{
		"event", ev.Type.String(),
		"session", ev.Session.String(),
		"peer", ev.Peer,
		"epoch", uint32(ev.Epoch),
	}
	if ev.Detail != "" {
		attrs = append(attrs, "detail", ev.Detail)
	}
	if ev.Reason != nil {
		attrs = append(attrs, "reason", ev.Reason)
	}

	switch ev.Type {
	case types.EventHandshakeFailed, types.EventMessageRejected, types.EventSessionTerminated:
		s.log.Warn("网关事件", attrs...)
	case types.EventMessageUnrouted:
		s.log.Debug("网关事件", attrs...)
	default:
		s.log.Info("网关事件", attrs...)
	}
}

// ============================================================================
//                              CaptureSink - 测试接收器
// ============================================================================

// CaptureSink 记录收到的全部事件，供测试断言
type CaptureSink struct {
	mu     sync.Mutex
	events []types.Event
}

// Publish 实现 types.EventSink
func (s *CaptureSink) Publish(ev types.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

// Events 返回已记录事件的快照
func (s *CaptureSink) Events() []types.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Event(nil), s.events...)
}

// Count 统计某类型事件出现次数
func (s *CaptureSink) Count(t types.EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}
