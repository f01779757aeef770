package router

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-secure-gateway/config"
	"github.com/dep2p/go-secure-gateway/internal/core/codec"
	"github.com/dep2p/go-secure-gateway/internal/core/events"
	"github.com/dep2p/go-secure-gateway/internal/core/identity"
	"github.com/dep2p/go-secure-gateway/internal/core/translate"
	"github.com/dep2p/go-secure-gateway/internal/transport"
	"github.com/dep2p/go-secure-gateway/pkg/types"
)

// captureLink 把出站帧收进切片的测试链路
type captureLink struct {
	mu     sync.Mutex
	frames [][]byte
}

func (c *captureLink) Send(data []byte) error {
	c.mu.Lock()
	c.frames = append(c.frames, append([]byte(nil), data...))
	c.mu.Unlock()
	return nil
}

func (c *captureLink) Receive(ctx context.Context) ([]byte, error) {
	return nil, transport.ErrClosed
}

func (c *captureLink) Close() error { return nil }

// take 取走全部已捕获帧
func (c *captureLink) take() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.frames
	c.frames = nil
	return out
}

// legacyToModernRule 测试翻译规则：1553 遥测装入 SendUnitData
func legacyToModernRule() translate.Rule {
	return translate.Rule{
		Name: "legacy-to-modern",
		From: types.ProtocolLegacy1553,
		To:   types.ProtocolModernENIP,
		Mappings: []translate.Mapping{
			{Destination: "command", Op: translate.MapDefault,
				Default: &types.Field{Kind: types.FieldUnsigned, Uint: codec.CmdSendUnitData}},
			{Destination: "session_handle", Op: translate.MapRename, Source: "word_00"},
			{Destination: "status", Op: translate.MapDefault,
				Default: &types.Field{Kind: types.FieldUnsigned, Uint: 0}},
			{Destination: "sender_context", Op: translate.MapDefault,
				Default: &types.Field{Kind: types.FieldBytes, Bytes: make([]byte, 8)}},
			{Destination: "options", Op: translate.MapDefault,
				Default: &types.Field{Kind: types.FieldUnsigned, Uint: 0}},
			{Destination: "payload", Op: translate.MapDefault,
				Default: &types.Field{Kind: types.FieldBytes, Bytes: []byte{0xDE, 0xAD}}},
		},
	}
}

// gatewayPair 两个互联的路由器与捕获链路
type gatewayPair struct {
	rA, rB       *Router
	peerA, peerB types.PeerID
	linkA, linkB *captureLink // A 出站 / B 出站
	busB         *captureLink // B 的本地 ENIP 总线出站
	sinkA, sinkB *events.CaptureSink
	clk          *clock.Mock
	idsA, idsB   *identity.Store
}

func newGatewayPair(t *testing.T) *gatewayPair {
	t.Helper()
	clk := clock.NewMock()

	idsA, err := identity.Generate()
	require.NoError(t, err)
	idsB, err := identity.Generate()
	require.NoError(t, err)

	peerB, err := idsA.Provision(idsB.VerifyKey(), time.Time{})
	require.NoError(t, err)
	peerA, err := idsB.Provision(idsA.VerifyKey(), time.Time{})
	require.NoError(t, err)

	rules, err := translate.NewRuleSet([]translate.Rule{legacyToModernRule()})
	require.NoError(t, err)
	cfgA := &config.Config{
		Rules: rules,
		Routes: config.NewRouteTable([]config.Route{{
			Name:    "telemetry",
			From:    types.ProtocolLegacy1553,
			Pattern: "1553/*",
			Peer:    peerB,
			Rule:    "legacy-to-modern",
		}}),
		Session:   config.DefaultSessionPolicy(),
		QueueSize: 16,
	}
	cfgB := config.DefaultConfig()

	sinkA := &events.CaptureSink{}
	sinkB := &events.CaptureSink{}

	rA, err := New(cfgA, idsA, clk, sinkA, nil)
	require.NoError(t, err)
	rB, err := New(cfgB, idsB, clk, sinkB, nil)
	require.NoError(t, err)

	linkA := &captureLink{}
	linkB := &captureLink{}
	busB := &captureLink{}
	rA.AttachPeer(peerB, linkA)
	rB.AttachPeer(peerA, linkB)
	rB.AttachBus(types.ProtocolModernENIP, busB)

	return &gatewayPair{
		rA: rA, rB: rB,
		peerA: peerA, peerB: peerB,
		linkA: linkA, linkB: linkB, busB: busB,
		sinkA: sinkA, sinkB: sinkB,
		clk:  clk,
		idsA: idsA, idsB: idsB,
	}
}

// pump 双向投递链路帧直到静默
func (g *gatewayPair) pump() {
	for {
		fa := g.linkA.take()
		fb := g.linkB.take()
		if len(fa) == 0 && len(fb) == 0 {
			return
		}
		for _, f := range fa {
			g.rB.ProcessWireFrame(g.peerA, f)
		}
		for _, f := range fb {
			g.rA.ProcessWireFrame(g.peerB, f)
		}
	}
}

// legacyFrame BC->RT5/SA3 两个数据字的 1553 帧
func legacyFrame() []byte {
	cmd := uint16(5)<<11 | uint16(3)<<5 | 2
	out := binary.BigEndian.AppendUint16(nil, cmd)
	out = binary.BigEndian.AppendUint16(out, 0xBEEF)
	out = binary.BigEndian.AppendUint16(out, 0x1234)
	return out
}

// TestEndToEndLegacyToModern 测试完整流水线：
// 总线帧入站触发惰性握手，积压消息在握手完成后翻译、
// 封装、解封并以 ENIP 帧投递到目标总线。
func TestEndToEndLegacyToModern(t *testing.T) {
	g := newGatewayPair(t)

	g.rA.ProcessBusFrame(types.ProtocolLegacy1553, legacyFrame())
	g.pump()

	stateA, ok := g.rA.SessionState(g.peerB)
	require.True(t, ok)
	require.Equal(t, types.StateEstablished, stateA)
	stateB, ok := g.rB.SessionState(g.peerA)
	require.True(t, ok)
	require.Equal(t, types.StateEstablished, stateB)

	frames := g.busB.take()
	require.Len(t, frames, 1)

	msg, err := codec.Decode(types.ProtocolModernENIP, frames[0], g.clk.Now())
	require.NoError(t, err)
	assert.Equal(t, "ENIP/SendUnitData", msg.ID)

	handle, ok := msg.Field("session_handle")
	require.True(t, ok)
	assert.Equal(t, uint64(0xBEEF), handle.Uint)
	payload, ok := msg.Field("payload")
	require.True(t, ok)
	assert.Equal(t, []byte{0xDE, 0xAD}, payload.Bytes)

	assert.Equal(t, 1, g.sinkB.Count(types.EventMessageAccepted))
	assert.Equal(t, 0, g.sinkA.Count(types.EventMessageRejected))
}

// TestBacklogFlushedAfterHandshake 测试握手期间的多条消息
// 全部积压并在建立后按序送达
func TestBacklogFlushedAfterHandshake(t *testing.T) {
	g := newGatewayPair(t)

	for i := 0; i < 3; i++ {
		g.rA.ProcessBusFrame(types.ProtocolLegacy1553, legacyFrame())
	}
	g.pump()

	frames := g.busB.take()
	assert.Len(t, frames, 3)
	assert.Equal(t, 3, g.sinkB.Count(types.EventMessageAccepted))
}

// TestUnroutedDropped 测试无路由消息被丢弃且不建会话
func TestUnroutedDropped(t *testing.T) {
	g := newGatewayPair(t)

	cmd := uint16(9)<<11 | uint16(1)<<10 | uint16(1)<<5 | 1
	frame := binary.BigEndian.AppendUint16(nil, cmd)
	frame = binary.BigEndian.AppendUint16(frame, uint16(9)<<11) // 状态字
	frame = binary.BigEndian.AppendUint16(frame, 0x0001)

	// B 没有任何 1553 路由，也未挂 1553 总线
	g.rB.ProcessBusFrame(types.ProtocolLegacy1553, frame)

	assert.Equal(t, 1, g.sinkB.Count(types.EventMessageUnrouted))
	assert.Equal(t, 0, g.rB.SessionCount())
}

// TestRuleFilterGatesRoute 测试规则过滤决定路由是否生效
func TestRuleFilterGatesRoute(t *testing.T) {
	newFilteredRouter := func(g *gatewayPair, f translate.Filter) *Router {
		rule := legacyToModernRule()
		rule.Filter = f
		rules, err := translate.NewRuleSet([]translate.Rule{rule})
		require.NoError(t, err)
		cfgA := &config.Config{
			Rules: rules,
			Routes: config.NewRouteTable([]config.Route{{
				Name: "telemetry", From: types.ProtocolLegacy1553,
				Pattern: "1553/*", Peer: g.peerB, Rule: "legacy-to-modern",
			}}),
			Session:   config.DefaultSessionPolicy(),
			QueueSize: 16,
		}
		rA, err := New(cfgA, g.idsA, g.clk, g.sinkA, nil)
		require.NoError(t, err)
		rA.AttachPeer(g.peerB, g.linkA)
		return rA
	}

	g := newGatewayPair(t)

	// legacyFrame 的来源是 BC：过滤不命中，不翻译、不建会话，按无路由丢弃
	rA := newFilteredRouter(g, translate.Filter{Source: "RT5"})
	rA.ProcessBusFrame(types.ProtocolLegacy1553, legacyFrame())
	assert.Empty(t, g.linkA.take())
	assert.Equal(t, 0, rA.SessionCount())
	assert.Equal(t, 1, g.sinkA.Count(types.EventMessageUnrouted))

	// 过滤命中时路由照常生效
	g.rA = newFilteredRouter(g, translate.Filter{Source: "BC"})
	g.rA.ProcessBusFrame(types.ProtocolLegacy1553, legacyFrame())
	g.pump()
	assert.Len(t, g.busB.take(), 1)
}

// TestMalformedBusFrameRejected 测试畸形总线帧只产生拒绝事件
func TestMalformedBusFrameRejected(t *testing.T) {
	g := newGatewayPair(t)

	g.rA.ProcessBusFrame(types.ProtocolLegacy1553, []byte{0x01})

	assert.Equal(t, 1, g.sinkA.Count(types.EventMessageRejected))
	assert.Equal(t, 0, g.rA.SessionCount())
}

// TestTombstoneRejectsLateEnvelope 测试已终止会话的晚到帧被墓碑拒绝
func TestTombstoneRejectsLateEnvelope(t *testing.T) {
	g := newGatewayPair(t)

	g.rA.ProcessBusFrame(types.ProtocolLegacy1553, legacyFrame())
	g.pump()
	require.Equal(t, 1, g.rB.SessionCount())

	// 再发一条但不投递，留作晚到帧
	g.rA.ProcessBusFrame(types.ProtocolLegacy1553, legacyFrame())
	late := g.linkA.take()
	require.Len(t, late, 1)

	g.rB.Close()
	require.Equal(t, 0, g.rB.SessionCount())

	rejected := g.sinkB.Count(types.EventMessageRejected)
	g.rB.ProcessWireFrame(g.peerA, late[0])
	assert.Equal(t, rejected+1, g.sinkB.Count(types.EventMessageRejected))
	assert.Equal(t, 0, g.rB.SessionCount())
}

// TestIdleEviction 测试空闲会话被驱逐并终止
func TestIdleEviction(t *testing.T) {
	g := newGatewayPair(t)

	g.rA.ProcessBusFrame(types.ProtocolLegacy1553, legacyFrame())
	g.pump()
	require.Equal(t, 1, g.rA.SessionCount())

	g.clk.Add(config.DefaultIdleTimeout + time.Second)
	g.rA.Tick(g.clk.Now())

	assert.Equal(t, 0, g.rA.SessionCount())
	assert.GreaterOrEqual(t, g.sinkA.Count(types.EventSessionTerminated), 1)
}

// TestHandshakeIdentityMismatchNotRegistered 测试握手身份与
// 链路对端不符时会话不被登记
func TestHandshakeIdentityMismatchNotRegistered(t *testing.T) {
	g := newGatewayPair(t)

	idsC, err := identity.Generate()
	require.NoError(t, err)
	peerC, err := g.idsB.Provision(idsC.VerifyKey(), time.Time{})
	require.NoError(t, err)
	g.rB.AttachPeer(peerC, &captureLink{})

	// A 的合法握手帧从标记为 C 的链路进来
	require.NoError(t, g.rA.Connect(g.peerB))
	frames := g.linkA.take()
	require.NotEmpty(t, frames)
	g.rB.ProcessWireFrame(peerC, frames[0])

	assert.Equal(t, 0, g.rB.SessionCount())
}

// TestRehandshakeSupersedesSession 测试新的握手发起帧替换旧会话
func TestRehandshakeSupersedesSession(t *testing.T) {
	g := newGatewayPair(t)

	g.rA.ProcessBusFrame(types.ProtocolLegacy1553, legacyFrame())
	g.pump()
	require.Equal(t, 1, g.rB.SessionCount())
	g.busB.take()

	// A 重启：重建路由器并重新握手
	rules, err := translate.NewRuleSet([]translate.Rule{legacyToModernRule()})
	require.NoError(t, err)
	cfgA := &config.Config{
		Rules: rules,
		Routes: config.NewRouteTable([]config.Route{{
			Name: "telemetry", From: types.ProtocolLegacy1553,
			Pattern: "1553/*", Peer: g.peerB, Rule: "legacy-to-modern",
		}}),
		Session:   config.DefaultSessionPolicy(),
		QueueSize: 16,
	}
	rA2, err := New(cfgA, g.idsA, g.clk, g.sinkA, nil)
	require.NoError(t, err)
	rA2.AttachPeer(g.peerB, g.linkA)
	g.rA = rA2

	g.rA.ProcessBusFrame(types.ProtocolLegacy1553, legacyFrame())
	g.pump()

	assert.Equal(t, 1, g.rB.SessionCount())
	assert.Len(t, g.busB.take(), 1)
}

// TestRunDeliversOverPipes 测试 Run 接收循环在真实管道传输上工作
func TestRunDeliversOverPipes(t *testing.T) {
	clk := clock.New()

	idsA, err := identity.Generate()
	require.NoError(t, err)
	idsB, err := identity.Generate()
	require.NoError(t, err)
	peerB, err := idsA.Provision(idsB.VerifyKey(), time.Time{})
	require.NoError(t, err)
	peerA, err := idsB.Provision(idsA.VerifyKey(), time.Time{})
	require.NoError(t, err)

	rules, err := translate.NewRuleSet([]translate.Rule{legacyToModernRule()})
	require.NoError(t, err)
	cfgA := &config.Config{
		Rules: rules,
		Routes: config.NewRouteTable([]config.Route{{
			Name: "telemetry", From: types.ProtocolLegacy1553,
			Pattern: "1553/*", Peer: peerB, Rule: "legacy-to-modern",
		}}),
		Session:   config.DefaultSessionPolicy(),
		QueueSize: 16,
	}

	rA, err := New(cfgA, idsA, clk, nil, nil)
	require.NoError(t, err)
	rB, err := New(config.DefaultConfig(), idsB, clk, nil, nil)
	require.NoError(t, err)

	linkAEnd, linkBEnd := transport.NewPair(64)
	busLegacyGW, busLegacyDev := transport.NewPair(64)
	busModernGW, busModernDev := transport.NewPair(64)

	rA.AttachPeer(peerB, linkAEnd)
	rA.AttachBus(types.ProtocolLegacy1553, busLegacyGW)
	rB.AttachPeer(peerA, linkBEnd)
	rB.AttachBus(types.ProtocolModernENIP, busModernGW)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 2)
	go func() { done <- rA.Run(ctx) }()
	go func() { done <- rB.Run(ctx) }()

	require.NoError(t, busLegacyDev.Send(legacyFrame()))

	recvCtx, recvCancel := context.WithTimeout(ctx, 5*time.Second)
	defer recvCancel()
	frame, err := busModernDev.Receive(recvCtx)
	require.NoError(t, err)

	msg, err := codec.Decode(types.ProtocolModernENIP, frame, clk.Now())
	require.NoError(t, err)
	assert.Equal(t, "ENIP/SendUnitData", msg.ID)

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, <-done)
}
