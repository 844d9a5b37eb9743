package client

import "github.com/qiniu/sandbox-sdk-go/internal/clientv2"

// DebugOptions 控制 http 模式下的请求调试日志，日志以 debug 级别输出
type DebugOptions struct {
	// Request 打印请求行与 Header
	Request bool
	// RequestBody 打印请求时同时打印请求体
	RequestBody bool
	// Response 打印响应状态与请求失败原因
	Response bool
	// Trace 打印 DNS 解析、连接复用、TLS 握手等连接建立过程
	Trace bool
}

// SetDebug 设置进程内所有客户端的调试输出
//
// 未调用时请求和响应是否打印由 SANDBOX_DEBUG 环境变量决定。
func SetDebug(options DebugOptions) {
	clientv2.PrintRequest(options.Request)
	clientv2.PrintRequestDetail(options.RequestBody)
	clientv2.PrintResponse(options.Response)
	clientv2.PrintRequestTrace(options.Trace)
}
