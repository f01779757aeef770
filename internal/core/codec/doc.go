// Package codec 实现帧编解码器
//
// 纯函数层，无 I/O、无状态：
//   - legacy.go: MIL-STD-1553 帧 <-> 规范消息
//   - modern.go: EtherNet/IP 风格帧 <-> 规范消息
//   - envelope.go: 受保护消息信封（规范线路布局）与链路帧判别
//
// 协议集是封闭的：{LegacyFrame, ModernFrame}，所有分发点穷举处理。
// 解码严格校验帧结构（长度规则、声明字段、已知命令集），
// 任何结构违例返回 types.ErrMalformed，绝不做尽力恢复。
// 编码是确定性的：相同规范输入产生逐字节相同的输出
// （可测试性与签名可复现性依赖此性质）。
package codec
