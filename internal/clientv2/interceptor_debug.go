package clientv2

import (
	"crypto/tls"
	"net/http"
	"net/http/httptrace"
	"net/http/httputil"
	"sync/atomic"

	"github.com/qiniu/sandbox-sdk-go/conf"
	"github.com/qiniu/sandbox-sdk-go/internal/log"
)

var (
	printRequestTrace  atomic.Bool
	printRequest       atomic.Pointer[bool]
	printResponse      atomic.Pointer[bool]
	printRequestDetail atomic.Bool
)

// PrintRequestTrace 是否打印连接建立过程（DNS、连接复用、TLS 握手等）
func PrintRequestTrace(isPrint bool) {
	printRequestTrace.Store(isPrint)
}

func isPrintRequestTrace() bool {
	return printRequestTrace.Load()
}

// PrintRequest 是否打印请求，未设置时由 SANDBOX_DEBUG 决定
func PrintRequest(isPrint bool) {
	printRequest.Store(&isPrint)
}

func isPrintRequest() bool {
	if p := printRequest.Load(); p != nil {
		return *p
	}
	return conf.IsDebugMode()
}

// PrintRequestDetail 打印请求时是否同时打印请求体
func PrintRequestDetail(isPrint bool) {
	printRequestDetail.Store(isPrint)
}

// PrintResponse 是否打印响应状态，未设置时由 SANDBOX_DEBUG 决定
func PrintResponse(isPrint bool) {
	printResponse.Store(&isPrint)
}

func isPrintResponse() bool {
	if p := printResponse.Load(); p != nil {
		return *p
	}
	return conf.IsDebugMode()
}

type debugInterceptor struct {
}

func newDebugInterceptor() Interceptor {
	return &debugInterceptor{}
}

func (r *debugInterceptor) Priority() InterceptorPriority {
	return InterceptorPriorityDebug
}

func (r *debugInterceptor) Intercept(req *http.Request, handler Handler) (*http.Response, error) {
	url := r.requestURL(req)

	if e := r.printRequest(url, req); e != nil {
		return nil, e
	}

	req = r.printRequestTrace(url, req)

	resp, err := handler(req)
	if err != nil && isPrintResponse() {
		log.Debug("request failed", "url", url, "error", err)
	}

	r.printResponse(url, resp)
	return resp, err
}

func (r *debugInterceptor) requestURL(req *http.Request) string {
	if req == nil || req.URL == nil {
		return ""
	}
	return req.URL.String()
}

func (r *debugInterceptor) printRequest(url string, req *http.Request) error {
	if !isPrintRequest() {
		return nil
	}

	dump, err := httputil.DumpRequestOut(req, printRequestDetail.Load())
	if err != nil {
		return err
	}
	log.Debug("request", "url", url, "dump", string(dump))
	return nil
}

func (r *debugInterceptor) printRequestTrace(url string, req *http.Request) *http.Request {
	if !isPrintRequestTrace() {
		return req
	}

	trace := &httptrace.ClientTrace{
		GetConn: func(hostPort string) {
			log.Debug("GetConn", "url", url, "hostPort", hostPort)
		},
		GotConn: func(connInfo httptrace.GotConnInfo) {
			remoteAddr := connInfo.Conn.RemoteAddr()
			log.Debug("GotConn", "url", url, "network", remoteAddr.Network(), "remoteAddr", remoteAddr.String(), "reused", connInfo.Reused)
		},
		GotFirstResponseByte: func() {
			log.Debug("GotFirstResponseByte", "url", url)
		},
		DNSDone: func(info httptrace.DNSDoneInfo) {
			log.Debug("DNSDone", "url", url, "addrs", info.Addrs, "error", info.Err)
		},
		ConnectDone: func(network, addr string, err error) {
			log.Debug("ConnectDone", "url", url, "network", network, "addr", addr, "error", err)
		},
		TLSHandshakeDone: func(state tls.ConnectionState, err error) {
			log.Debug("TLSHandshakeDone", "url", url, "serverName", state.ServerName, "error", err)
		},
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			log.Debug("WroteRequest", "url", url, "error", info.Err)
		},
	}
	return req.WithContext(httptrace.WithClientTrace(req.Context(), trace))
}

func (r *debugInterceptor) printResponse(url string, resp *http.Response) {
	if resp == nil || !isPrintResponse() {
		return
	}
	log.Debug("response", "url", url, "status", resp.StatusCode, "contentType", resp.Header.Get("Content-Type"))
}
