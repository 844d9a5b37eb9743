//go:build unit
// +build unit

package clientv2

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sdkerrors "github.com/qiniu/sandbox-sdk-go/errors"
)

const headerKey = "request"

type testClient struct {
	statusCode int
	body       string
}

func (t testClient) Do(req *http.Request) (*http.Response, error) {
	value := req.Header.Get(headerKey)
	value += " -> Do"
	req.Header.Set(headerKey, value)
	return &http.Response{
		Request:    req,
		StatusCode: t.statusCode,
		Header:     req.Header,
		Body:       io.NopCloser(strings.NewReader(t.body)),
	}, nil
}

func appendHeaderInterceptor(name string, priority InterceptorPriority) Interceptor {
	return NewSimpleInterceptorWithPriority(priority, func(req *http.Request, handler Handler) (*http.Response, error) {
		req.Header.Set(headerKey, req.Header.Get(headerKey)+" -> request-"+name)
		resp, err := handler(req)
		resp.Header.Set(headerKey, resp.Header.Get(headerKey)+" -> response-"+name)
		return resp, err
	})
}

func TestInterceptor(t *testing.T) {
	c := NewClient(&testClient{statusCode: 200})
	resp, err := c.Do(&http.Request{Header: http.Header{}})
	require.NoError(t, err)
	assert.Equal(t, " -> Do", resp.Header.Get(headerKey))
	assert.Equal(t, UserAgent, resp.Header.Get("User-Agent"))

	c = NewClient(&testClient{statusCode: 200},
		appendHeaderInterceptor("03", InterceptorPriorityNormal+3),
		appendHeaderInterceptor("01", InterceptorPriorityNormal+1),
		appendHeaderInterceptor("02", InterceptorPriorityNormal+2),
	)
	resp, err = c.Do(&http.Request{Header: http.Header{}})
	require.NoError(t, err)
	assert.Equal(t, " -> request-01 -> request-02 -> request-03 -> Do -> response-03 -> response-02 -> response-01", resp.Header.Get(headerKey))
}

func TestNoResponse(t *testing.T) {
	c := NewClient(nil, NewSimpleInterceptorWithPriority(InterceptorPriorityNormal, func(req *http.Request, handler Handler) (*http.Response, error) {
		return nil, nil
	}))
	_, err := c.Do(&http.Request{Header: http.Header{}})
	assert.ErrorIs(t, err, ErrNoResponse)
}

func TestDoWithJsonBody(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/api/ping", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"message":"hi"}`, string(body))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"message":"pong"}`))
	})
	router.HandleFunc("/api/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"code":"FILE_NOT_FOUND","error":"no such file"}`))
	})
	server := httptest.NewServer(router)
	defer server.Close()

	c := NewClient(server.Client())
	getBody, err := GetJsonRequestBody(map[string]string{"message": "hi"})
	require.NoError(t, err)

	resp, err := Do(c, RequestParams{Method: RequestMethodPost, Url: server.URL + "/api/ping", GetBody: getBody})
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"success":true,"message":"pong"}`, string(body))

	// 非 2xx 响应原样返回，由调用方转换
	resp, err = Do(c, RequestParams{Url: server.URL + "/api/missing"})
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var fileErr *sdkerrors.FileError
	require.ErrorAs(t, sdkerrors.FromResponse(resp.StatusCode, body), &fileErr)
	assert.Equal(t, "FILE_NOT_FOUND", fileErr.Code)
}
