package clientv2

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/qiniu/sandbox-sdk-go/conf"
)

const (
	RequestMethodGet    = http.MethodGet
	RequestMethodPut    = http.MethodPut
	RequestMethodPost   = http.MethodPost
	RequestMethodHead   = http.MethodHead
	RequestMethodDelete = http.MethodDelete
)

// GetRequestBody 每次调用都返回一个从头开始的请求体，请求重试时会再次调用
type GetRequestBody func(options *RequestParams) (io.ReadCloser, error)

func GetJsonRequestBody(object interface{}) (GetRequestBody, error) {
	reqBody, err := json.Marshal(object)
	if err != nil {
		return nil, err
	}
	return getBytesRequestBody(reqBody, conf.CONTENT_TYPE_JSON), nil
}

func getBytesRequestBody(body []byte, contentType string) GetRequestBody {
	return func(o *RequestParams) (io.ReadCloser, error) {
		if contentType != "" {
			o.Header.Set("Content-Type", contentType)
		}
		o.Header.Set("Content-Length", strconv.Itoa(len(body)))
		return io.NopCloser(bytes.NewReader(body)), nil
	}
}

type RequestParams struct {
	Context context.Context
	Method  string
	Url     string
	Header  http.Header
	GetBody GetRequestBody
}

func (o *RequestParams) init() {
	if o.Context == nil {
		o.Context = context.Background()
	}

	if len(o.Method) == 0 {
		o.Method = RequestMethodGet
	}

	if o.Header == nil {
		o.Header = http.Header{}
	}
}

func NewRequest(options RequestParams) (req *http.Request, err error) {
	options.init()

	var body io.ReadCloser
	if options.GetBody != nil {
		if body, err = options.GetBody(&options); err != nil {
			return nil, err
		}
	}
	req, err = http.NewRequestWithContext(options.Context, options.Method, options.Url, body)
	if err != nil {
		return
	}
	req.Header = options.Header
	if options.GetBody != nil && body != nil {
		if length, e := strconv.ParseInt(options.Header.Get("Content-Length"), 10, 64); e == nil {
			req.ContentLength = length
		}
		req.GetBody = func() (io.ReadCloser, error) {
			return options.GetBody(&options)
		}
	}
	return
}
