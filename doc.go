// Package securegateway 提供航电总线安全网关
//
// SecureGateway 在遗留 MIL-STD-1553 风格总线与现代 EtherNet/IP 风格
// 网络之间双向桥接，对跨越边界的每条消息施加认证加密与签名。
//
// # 核心概念
//
// 网关围绕三个核心概念构建：
//
//   - Gateway: 网关实例，用户交互的主入口
//   - Session: 与对端网关的受保护会话（握手、AEAD、签名、重放窗口、密钥轮换）
//   - Route/Rule: 路由表与字段映射规则，驱动协议翻译
//
// # 快速开始
//
//	import securegateway "github.com/dep2p/go-secure-gateway"
//
//	// 1. 创建并启动网关
//	gw, err := securegateway.Start(ctx,
//	    securegateway.WithRules(rules),
//	    securegateway.WithRoutes(routes),
//	    securegateway.WithPeerLink(peerID, link),
//	    securegateway.WithBus(types.ProtocolLegacy1553, bus),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer gw.Close()
//
//	// 2. 主动向对端发起握手（可选，入站消息会惰性触发）
//	if err := gw.Connect(peerID); err != nil {
//	    log.Fatal(err)
//	}
//
// 之后总线入站帧自动解码、按规则翻译、经受保护会话送达对端；
// 对端解封后的消息编码回目标协议帧投递本地总线。
//
// # 安全模型
//
// 身份是离线预置的 Ed25519 验证公钥，握手对未知身份快速失败。
// 会话数据面使用 ChaCha20-Poly1305 AEAD 加逐消息签名，
// 纪元化密钥经 HKDF 派生并支持在线轮换，旧纪元密钥在宽限期后
// 清零退役。认证失败与重放是致命错误，立即终止会话。
package securegateway
