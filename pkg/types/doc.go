// Package types 定义安全网关的基础类型
//
// 本包包含所有跨层共享的数据类型：
//   - 标识类型：SessionID、PeerID、Epoch
//   - 协议类型：ProtocolType（封闭枚举，编解码器必须穷举处理）
//   - 规范消息：CanonicalMessage / Field（协议无关的内部表示）
//   - 会话状态：SessionState 状态机枚举
//   - 可观测性事件：Event 及其原因枚举
//
// 类型放在独立包中以避免 internal 各层之间的循环依赖：
// 所有层都可以依赖 types，types 不依赖任何内部层。
package types
