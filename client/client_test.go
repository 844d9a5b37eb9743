//go:build unit
// +build unit

package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/qiniu/sandbox-sdk-go/circuitbreaker"
	sdkerrors "github.com/qiniu/sandbox-sdk-go/errors"
	"github.com/qiniu/sandbox-sdk-go/internal/clientv2"
	"github.com/qiniu/sandbox-sdk-go/internal/log"
	"github.com/qiniu/sandbox-sdk-go/queue"
	"github.com/qiniu/sandbox-sdk-go/sse"
	"github.com/qiniu/sandbox-sdk-go/transport"
)

func newSandboxServer(t *testing.T) *httptest.Server {
	router := mux.NewRouter()
	router.HandleFunc("/api/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"message":"pong"}`))
	})
	router.HandleFunc("/api/read", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"code":"FILE_NOT_FOUND","error":"file not found","context":{"path":"/tmp/x"},"httpStatus":404}`))
	})
	router.HandleFunc("/api/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("database connection failed"))
	})
	router.HandleFunc("/api/garbage", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	})
	router.HandleFunc("/api/execute/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		sse.Encode(r.Context(), w, sse.FromSlice([]map[string]string{{"type": "start"}, {"type": "complete"}}))
	})
	router.HandleFunc("/api/process/{id}/logs/stream", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"code":"PROCESS_NOT_FOUND","error":"process ` + mux.Vars(r)["id"] + ` not found"}`))
	})

	upgrader := websocket.Upgrader{}
	router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req struct {
				ID   string `json:"id"`
				Path string `json:"path"`
			}
			if conn.ReadJSON(&req) != nil {
				return
			}
			switch req.Path {
			case "/api/execute/stream":
				conn.WriteJSON(map[string]interface{}{"type": "stream_chunk", "id": req.ID, "data": `{"type":"start"}`})
				conn.WriteJSON(map[string]interface{}{"type": "stream_chunk", "id": req.ID, "data": `{"type":"complete"}`})
				conn.WriteJSON(map[string]interface{}{"type": "response", "id": req.ID, "status": 200, "done": true})
			case "/api/read":
				conn.WriteJSON(map[string]interface{}{"type": "error", "id": req.ID, "code": "FILE_NOT_FOUND", "message": "file not found", "status": 404})
			default:
				conn.WriteJSON(map[string]interface{}{"type": "response", "id": req.ID, "status": 200, "body": map[string]interface{}{"success": true, "message": "pong"}, "done": true})
			}
		}
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

type pingResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func TestNewValidation(t *testing.T) {
	_, err := New(&Config{Mode: "grpc", BaseURL: "http://127.0.0.1:3000"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(&Config{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(&Config{BaseURL: "not a url"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(&Config{Mode: transport.ModeWebSocket})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	c, err := New(&Config{Mode: transport.ModeWebSocket, BaseURL: "https://sandbox.example.com/base/"})
	require.NoError(t, err)
	assert.Equal(t, transport.ModeWebSocket, c.Transport().Mode())
	require.NoError(t, c.Close())
}

func TestWebSocketURL(t *testing.T) {
	config := &Config{BaseURL: "https://sandbox.example.com/base/"}
	u, err := config.webSocketURL()
	require.NoError(t, err)
	assert.Equal(t, "wss://sandbox.example.com/base/ws", u)

	config = &Config{BaseURL: "http://127.0.0.1:3000"}
	u, err = config.webSocketURL()
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:3000/ws", u)

	config.WebSocketURL = "ws://127.0.0.1:3001/socket"
	u, err = config.webSocketURL()
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:3001/socket", u)
}

func TestDoJSONOverHTTP(t *testing.T) {
	server := newSandboxServer(t)
	c, err := New(&Config{
		BaseURL:      server.URL,
		HTTPClient:   server.Client(),
		StartupRetry: transport.StartupRetryOptions{Sleep: noSleep},
	})
	require.NoError(t, err)
	defer c.Close()

	var ret pingResult
	require.NoError(t, c.DoJSON(context.Background(), http.MethodGet, "/api/ping", nil, &ret))
	assert.Equal(t, pingResult{Success: true, Message: "pong"}, ret)

	err = c.DoJSON(context.Background(), http.MethodPost, "/api/read", map[string]string{"path": "/tmp/x"}, &ret)
	var fileErr *sdkerrors.FileError
	require.ErrorAs(t, err, &fileErr)
	assert.Equal(t, "FILE_NOT_FOUND", fileErr.Code)
	assert.Equal(t, "/tmp/x", fileErr.Context["path"])
	assert.True(t, sdkerrors.IsExpected(err))
	assert.Equal(t, 0, c.Breaker().Stats().Failures)

	err = c.DoJSON(context.Background(), http.MethodGet, "/api/broken", nil, &ret)
	var apiErr *sdkerrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "database connection failed", apiErr.Message)
	assert.Equal(t, 1, c.Breaker().Stats().Failures)

	err = c.DoJSON(context.Background(), http.MethodGet, "/api/garbage", nil, &ret)
	assert.Error(t, err)
	assert.Equal(t, 1, c.Breaker().Stats().Failures)
}

func TestDoStreamOverHTTP(t *testing.T) {
	server := newSandboxServer(t)
	c, err := New(&Config{BaseURL: server.URL, HTTPClient: server.Client()})
	require.NoError(t, err)
	defer c.Close()

	stream, err := c.DoStream(context.Background(), http.MethodPost, "/api/execute/stream", map[string]string{"command": "ls"})
	require.NoError(t, err)
	defer stream.Close()

	var types []string
	require.NoError(t, sse.Decode(context.Background(), stream, func(e struct {
		Type string `json:"type"`
	}) error {
		types = append(types, e.Type)
		return nil
	}))
	assert.Equal(t, []string{"start", "complete"}, types)

	_, err = c.DoStream(context.Background(), http.MethodGet, "/api/process/42/logs/stream", nil)
	var processErr *sdkerrors.ProcessError
	require.ErrorAs(t, err, &processErr)
	assert.Equal(t, "process 42 not found", processErr.Message)
}

func TestClientOverWebSocket(t *testing.T) {
	server := newSandboxServer(t)
	c, err := New(&Config{Mode: transport.ModeWebSocket, BaseURL: server.URL})
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Connect(context.Background()))

	var ret pingResult
	require.NoError(t, c.DoJSON(context.Background(), http.MethodGet, "/api/ping", nil, &ret))
	assert.True(t, ret.Success)

	err = c.DoJSON(context.Background(), http.MethodGet, "/api/read", nil, &ret)
	var fileErr *sdkerrors.FileError
	require.ErrorAs(t, err, &fileErr)
	assert.Equal(t, http.StatusNotFound, fileErr.StatusCode)

	stream, err := c.DoStream(context.Background(), http.MethodPost, "/api/execute/stream", nil)
	require.NoError(t, err)
	data, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, "data: {\"type\":\"start\"}\n\ndata: {\"type\":\"complete\"}\n\ndata: [DONE]\n\n", string(data))
}

type blockingTransport struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (t *blockingTransport) Mode() transport.Mode          { return "blocking" }
func (t *blockingTransport) Connect(context.Context) error { return nil }
func (t *blockingTransport) Close() error                  { return nil }
func (t *blockingTransport) FetchStream(context.Context, *transport.Request) (io.ReadCloser, error) {
	return nil, errors.New("not supported")
}

func (t *blockingTransport) Fetch(ctx context.Context, _ *transport.Request) (*transport.Response, error) {
	t.calls.Add(1)
	t.started <- struct{}{}
	select {
	case <-t.release:
		return &transport.Response{StatusCode: http.StatusServiceUnavailable, Body: []byte("unavailable")}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestBreakerOpenClearsQueue(t *testing.T) {
	bt := &blockingTransport{started: make(chan struct{}, 1), release: make(chan struct{})}
	c, err := New(&Config{
		Transport: bt,
		Breaker:   circuitbreaker.Options{FailureThreshold: 1, RecoveryTimeout: time.Hour},
		Queue:     queue.Options{MaxConcurrent: 1},
	})
	require.NoError(t, err)
	defer c.Close()

	first := make(chan error, 1)
	go func() { first <- c.DoJSON(context.Background(), http.MethodGet, "/api/a", nil, nil) }()
	<-bt.started

	second := make(chan error, 1)
	go func() { second <- c.DoJSON(context.Background(), http.MethodGet, "/api/b", nil, nil) }()
	require.Eventually(t, func() bool { return c.Queue().Stats().Queued == 1 }, time.Second, 5*time.Millisecond)

	close(bt.release)
	var apiErr *sdkerrors.APIError
	require.ErrorAs(t, <-first, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)

	var clearedErr *queue.ClearedError
	require.ErrorAs(t, <-second, &clearedErr)
	assert.Equal(t, "circuit breaker open", clearedErr.Reason)
	assert.Equal(t, circuitbreaker.StateOpen, c.Breaker().State())

	var openErr *circuitbreaker.OpenError
	require.ErrorAs(t, c.DoJSON(context.Background(), http.MethodGet, "/api/c", nil, nil), &openErr)
	assert.Greater(t, openErr.Remaining, time.Duration(0))
	assert.EqualValues(t, 1, bt.calls.Load())
}

func TestCanceledRequestDoesNotTripBreaker(t *testing.T) {
	bt := &blockingTransport{started: make(chan struct{}, 1), release: make(chan struct{})}
	c, err := New(&Config{Transport: bt, Breaker: circuitbreaker.Options{FailureThreshold: 1}})
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.DoJSON(ctx, http.MethodGet, "/api/a", nil, nil) }()
	<-bt.started
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, circuitbreaker.StateClosed, c.Breaker().State())
	assert.Equal(t, 0, c.Breaker().Stats().Failures)
}

func TestMetrics(t *testing.T) {
	server := newSandboxServer(t)
	registry := prometheus.NewRegistry()
	c, err := New(&Config{BaseURL: server.URL, HTTPClient: server.Client(), Registerer: registry})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.DoJSON(context.Background(), http.MethodGet, "/api/ping", nil, nil))
	require.Error(t, c.DoJSON(context.Background(), http.MethodGet, "/api/read", nil, nil))

	families, err := registry.Gather()
	require.NoError(t, err)
	counts := make(map[string]float64)
	names := make(map[string]bool)
	for _, family := range families {
		names[family.GetName()] = true
		if family.GetName() != "sandbox_client_requests_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			labels := make(map[string]string)
			for _, label := range metric.GetLabel() {
				labels[label.GetName()] = label.GetValue()
			}
			assert.Equal(t, "http", labels["mode"])
			counts[labels["outcome"]] = metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, map[string]float64{"success": 1, "error": 1}, counts)
	assert.True(t, names["sandbox_queue_active"])
	assert.True(t, names["sandbox_circuit_breaker_state"])
}

func TestMetricsSharedRegistry(t *testing.T) {
	server := newSandboxServer(t)
	registry := prometheus.NewRegistry()
	newClient := func(clientID string) (*Client, error) {
		return New(&Config{BaseURL: server.URL, HTTPClient: server.Client(), Registerer: registry, ClientID: clientID})
	}

	var first, second *Client
	assert.NotPanics(t, func() {
		var err error
		first, err = newClient("")
		require.NoError(t, err)
		second, err = newClient("")
		require.NoError(t, err)
	})
	defer first.Close()
	defer second.Close()

	require.NoError(t, first.DoJSON(context.Background(), http.MethodGet, "/api/ping", nil, nil))
	require.NoError(t, second.DoJSON(context.Background(), http.MethodGet, "/api/ping", nil, nil))
	require.NoError(t, second.DoJSON(context.Background(), http.MethodGet, "/api/ping", nil, nil))

	families, err := registry.Gather()
	require.NoError(t, err)
	perClient := make(map[string]float64)
	queueSeries := 0
	for _, family := range families {
		switch family.GetName() {
		case "sandbox_client_requests_total":
			for _, metric := range family.GetMetric() {
				for _, label := range metric.GetLabel() {
					if label.GetName() == "client" {
						perClient[label.GetValue()] += metric.GetCounter().GetValue()
					}
				}
			}
		case "sandbox_queue_active":
			queueSeries = len(family.GetMetric())
		}
	}
	values := make([]float64, 0, len(perClient))
	for _, v := range perClient {
		values = append(values, v)
	}
	assert.ElementsMatch(t, []float64{1, 2}, values)
	assert.Equal(t, 2, queueSeries)

	// 相同 ClientID 的队列指标无法共享，前一个客户端关闭后才能复用
	named, err := newClient("worker")
	require.NoError(t, err)
	_, err = newClient("worker")
	var are prometheus.AlreadyRegisteredError
	assert.ErrorAs(t, err, &are)
	require.NoError(t, named.Close())
	named, err = newClient("worker")
	require.NoError(t, err)
	named.Close()
}

func TestSetDebug(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log.SetLogger(zap.New(core))
	SetDebug(DebugOptions{Request: true, RequestBody: true, Response: true, Trace: true})
	t.Cleanup(func() {
		SetDebug(DebugOptions{})
		log.SetLogger(log.New(nil))
	})

	server := newSandboxServer(t)
	c, err := New(&Config{BaseURL: server.URL, HTTPClient: server.Client()})
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.DoJSON(context.Background(), http.MethodPost, "/api/ping", map[string]string{"message": "hi"}, nil))

	requests := logs.FilterMessage("request").All()
	require.Len(t, requests, 1)
	assert.Contains(t, requests[0].ContextMap()["dump"], `{"message":"hi"}`)
	assert.Equal(t, 1, logs.FilterMessage("response").Len())
	assert.Positive(t, logs.FilterMessage("GotConn").Len())

	SetDebug(DebugOptions{})
	logs.TakeAll()
	require.NoError(t, c.DoJSON(context.Background(), http.MethodGet, "/api/ping", nil, nil))
	assert.Zero(t, logs.FilterMessage("request").Len())
	assert.Zero(t, logs.FilterMessage("GotConn").Len())
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join([]string{
		`[default]`,
		`transport = "websocket"`,
		`base_url = "http://127.0.0.1:3000"`,
		`request_timeout = "30s"`,
		`[default.breaker]`,
		`failure_threshold = 3`,
		`recovery_timeout = "5s"`,
		`[default.queue]`,
		`max_concurrent = 4`,
		`timeout = "1m"`,
		`[staging]`,
		`base_url = "http://staging:3000"`,
		`stream_idle_timeout = "bogus"`,
	}, "\n")), 0o600))

	t.Setenv("SANDBOX_TRANSPORT", "")
	t.Setenv("SANDBOX_BASE_URL", "")
	t.Setenv("SANDBOX_WS_URL", "ws://127.0.0.1:3001/ws")
	t.Setenv("SANDBOX_REQUEST_TIMEOUT", "45s")

	config, err := LoadConfigFile(path, "")
	require.NoError(t, err)
	assert.Equal(t, transport.ModeWebSocket, config.Mode)
	assert.Equal(t, "http://127.0.0.1:3000", config.BaseURL)
	assert.Equal(t, "ws://127.0.0.1:3001/ws", config.WebSocketURL)
	assert.Equal(t, 45*time.Second, config.RequestTimeout)
	assert.Equal(t, 3, config.Breaker.FailureThreshold)
	assert.Equal(t, 5*time.Second, config.Breaker.RecoveryTimeout)
	assert.Equal(t, 4, config.Queue.MaxConcurrent)
	assert.Equal(t, time.Minute, config.Queue.Timeout)

	_, err = LoadConfigFile(path, "staging")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	t.Setenv("SANDBOX_BASE_URL", "http://override:3000")
	config, err = LoadConfigFile(path, "missing")
	require.NoError(t, err)
	assert.Equal(t, "http://override:3000", config.BaseURL)
	assert.Empty(t, config.Mode)
}

func TestErrorConversion(t *testing.T) {
	err := convertError(&transport.StatusError{StatusCode: http.StatusForbidden, Body: []byte(`{"code":"PERMISSION_DENIED","error":"denied"}`)})
	var permErr *sdkerrors.PermissionError
	require.ErrorAs(t, err, &permErr)
	assert.False(t, isServiceFailure(err))

	err = convertError(&transport.FrameError{StatusCode: http.StatusBadGateway, Code: "GIT_NETWORK_ERROR", Message: "unreachable"})
	var gitErr *sdkerrors.GitError
	require.ErrorAs(t, err, &gitErr)
	assert.True(t, isServiceFailure(err))

	err = convertError(clientv2.ErrNoResponse)
	assert.ErrorIs(t, err, transport.ErrConnectionClosed)
	assert.True(t, isServiceFailure(err))

	assert.True(t, isServiceFailure(&transport.TimeoutError{Kind: transport.TimeoutKindRequest}))
	assert.False(t, isServiceFailure(&decodeError{err: json.Unmarshal([]byte("x"), &struct{}{})}))
}
