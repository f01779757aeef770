package securegateway

import "errors"

// 公共错误定义
var (
	// ErrNotStarted 网关未启动
	ErrNotStarted = errors.New("gateway not started")

	// ErrAlreadyStarted 网关已启动
	ErrAlreadyStarted = errors.New("gateway already started")

	// ErrGatewayClosed 网关已关闭
	ErrGatewayClosed = errors.New("gateway closed")
)
