package codec

import "errors"

var (
	// ErrUnencodable 规范消息缺少目标协议需要的字段或字段值越界
	//
	// 消息级错误：丢弃该消息，不影响会话。
	ErrUnencodable = errors.New("message not encodable")
)
