package clientv2

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/qiniu/sandbox-sdk-go/conf"
)

// UserAgent 所有请求默认携带的 User-Agent
var UserAgent = fmt.Sprintf("SandboxGo/%s (%s; %s; %s)", conf.Version, runtime.GOOS, runtime.GOARCH, runtime.Version())

type defaultHeaderInterceptor struct {
}

func newDefaultHeaderInterceptor() Interceptor {
	return &defaultHeaderInterceptor{}
}

func (interceptor *defaultHeaderInterceptor) Priority() InterceptorPriority {
	return InterceptorPrioritySetHeader
}

func (interceptor *defaultHeaderInterceptor) Intercept(req *http.Request, handler Handler) (*http.Response, error) {
	if req.Header == nil {
		req.Header = http.Header{}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", UserAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", conf.CONTENT_TYPE_JSON)
	}
	return handler(req)
}
