package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/singleflight"

	"github.com/qiniu/sandbox-sdk-go/internal/log"
	"github.com/qiniu/sandbox-sdk-go/sse"
)

const (
	DefaultRequestTimeout    = 120 * time.Second
	DefaultStreamIdleTimeout = 300 * time.Second
	DefaultConnectTimeout    = 60 * time.Second
	defaultWriteTimeout      = 10 * time.Second
)

const (
	frameTypeRequest     = "request"
	frameTypeResponse    = "response"
	frameTypeStreamChunk = "stream_chunk"
	frameTypeError       = "error"
)

// WebSocketOptions WebSocket 传输选项
type WebSocketOptions struct {
	// URL WebSocket 地址，如 ws://127.0.0.1:3000/ws
	URL string
	// Dialer 默认为 NewDirectDialer()
	Dialer Dialer
	// Header 握手请求携带的 Header
	Header http.Header
	// RequestTimeout 非流式请求的超时时长，默认 120s
	RequestTimeout time.Duration
	// StreamIdleTimeout 流式请求两次数据之间的最长间隔，默认 300s
	StreamIdleTimeout time.Duration
	// WriteTimeout 单帧写入超时，默认 10s
	WriteTimeout time.Duration
	// ConnectTimeout 一次建立连接（含拨号重试）的最长时长，默认 60s
	ConnectTimeout time.Duration
	// NewID 生成请求 ID，默认使用 UUID
	NewID func() string
}

type connState int

const (
	stateIdle connState = iota
	stateConnected
	stateDisconnected
)

type (
	// WebSocketTransport 在一条 WebSocket 连接上复用所有逻辑请求
	//
	// 首次请求时惰性建立连接。连接断开后所有未完成的请求以 ErrConnectionClosed 结束，且不会自动重连，
	// 之后的请求同样返回 ErrConnectionClosed，直到再次调用 Connect。
	WebSocketTransport struct {
		options WebSocketOptions
		connect singleflight.Group

		mu      sync.Mutex
		conn    *websocket.Conn
		state   connState
		pending map[string]*pendingRequest

		writeMu sync.Mutex
	}

	pendingRequest struct {
		id     string
		conn   *websocket.Conn
		result chan fetchResult
		stream *streamSink
		idle   *time.Timer
		stop   func() bool
	}

	fetchResult struct {
		resp *Response
		err  error
	}

	requestFrame struct {
		Type   string      `json:"type"`
		ID     string      `json:"id"`
		Method string      `json:"method"`
		Path   string      `json:"path"`
		Body   interface{} `json:"body,omitempty"`
	}

	inboundFrame struct {
		Type    string           `json:"type"`
		ID      string           `json:"id"`
		Status  int              `json:"status"`
		Body    json.RawMessage  `json:"body"`
		Done    bool             `json:"done"`
		Event   string           `json:"event"`
		Data    *json.RawMessage `json:"data"`
		Code    string           `json:"code"`
		Message string           `json:"message"`
	}
)

var _ Transport = (*WebSocketTransport)(nil)

// NewWebSocketTransport 创建 WebSocket 传输，不会立即建立连接
func NewWebSocketTransport(options WebSocketOptions) *WebSocketTransport {
	if options.Dialer == nil {
		options.Dialer = NewDirectDialer()
	}
	if options.RequestTimeout <= 0 {
		options.RequestTimeout = DefaultRequestTimeout
	}
	if options.StreamIdleTimeout <= 0 {
		options.StreamIdleTimeout = DefaultStreamIdleTimeout
	}
	if options.WriteTimeout <= 0 {
		options.WriteTimeout = defaultWriteTimeout
	}
	if options.ConnectTimeout <= 0 {
		options.ConnectTimeout = DefaultConnectTimeout
	}
	if options.NewID == nil {
		options.NewID = uuid.NewString
	}
	return &WebSocketTransport{
		options: options,
		pending: make(map[string]*pendingRequest),
	}
}

func (t *WebSocketTransport) Mode() Mode {
	return ModeWebSocket
}

// Connect 建立连接，已连接时直接返回
//
// 并发调用共享同一次拨号。拨号不受任何一个调用方 ctx 取消的影响，只受 ConnectTimeout 限制；
// 调用方的 ctx 结束时该调用方立即返回，拨号继续为其他调用方进行。
func (t *WebSocketTransport) Connect(ctx context.Context) error {
	ch := t.connect.DoChan("connect", func() (interface{}, error) {
		t.mu.Lock()
		connected := t.conn != nil
		t.mu.Unlock()
		if connected {
			return nil, nil
		}

		dialCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.options.ConnectTimeout)
		defer cancel()
		conn, err := t.options.Dialer.Dial(dialCtx, t.options.URL, t.options.Header)
		if err != nil {
			return nil, err
		}
		t.mu.Lock()
		t.conn = conn
		t.state = stateConnected
		t.mu.Unlock()

		log.Debug("websocket connected", "url", t.options.URL)
		go t.readLoop(conn)
		return nil, nil
	})

	select {
	case r := <-ch:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 断开连接，所有未完成的请求以 ErrConnectionClosed 结束
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	if t.state == stateConnected {
		t.state = stateDisconnected
	}
	t.mu.Unlock()

	if conn == nil {
		return nil
	}
	t.failPending(conn, ErrConnectionClosed)

	t.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.writeMu.Unlock()
	return conn.Close()
}

// Pending 返回尚未结束的请求数
func (t *WebSocketTransport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *WebSocketTransport) Fetch(ctx context.Context, req *Request) (*Response, error) {
	conn, err := t.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	p := &pendingRequest{
		id:     t.options.NewID(),
		conn:   conn,
		result: make(chan fetchResult, 1),
	}
	if err = t.register(p); err != nil {
		return nil, err
	}
	if err = t.send(ctx, conn, p.id, req); err != nil {
		t.take(p.id)
		return nil, err
	}

	timer := time.NewTimer(t.options.RequestTimeout)
	defer timer.Stop()
	select {
	case r := <-p.result:
		return r.resp, r.err
	case <-timer.C:
		if t.take(p.id) != nil {
			return nil, &TimeoutError{Kind: TimeoutKindRequest, After: t.options.RequestTimeout}
		}
	case <-ctx.Done():
		if t.take(p.id) != nil {
			return nil, ctx.Err()
		}
	}
	// 超时与响应同时到达时以响应为准
	r := <-p.result
	return r.resp, r.err
}

// FetchStream 发送流式请求，等到第一块数据或终止响应到达后返回
//
// 返回的 Reader 被关闭或 ctx 被取消时只在本地移除该请求，不会通知服务端，之后到达的数据会被丢弃。
func (t *WebSocketTransport) FetchStream(ctx context.Context, req *Request) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := t.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	id := t.options.NewID()
	sink := newStreamSink()
	p := &pendingRequest{id: id, conn: conn, stream: sink}
	p.idle = time.AfterFunc(t.options.StreamIdleTimeout, func() {
		if p := t.take(id); p != nil {
			p.fail(&TimeoutError{Kind: TimeoutKindStreamIdle, After: t.options.StreamIdleTimeout})
		}
	})
	p.stop = context.AfterFunc(ctx, func() {
		if p := t.take(id); p != nil {
			p.fail(ctx.Err())
		}
	})
	sink.onClose = func() {
		if p := t.take(id); p != nil {
			p.release()
		}
	}

	if err = t.register(p); err != nil {
		p.release()
		return nil, err
	}
	if err = t.send(ctx, conn, id, req); err != nil {
		if p := t.take(id); p != nil {
			p.release()
		}
		return nil, err
	}

	select {
	case <-sink.started:
	case <-ctx.Done():
		if p := t.take(id); p != nil {
			p.release()
		}
		return nil, ctx.Err()
	}
	if err = sink.failedBeforeData(); err != nil {
		return nil, err
	}
	return sink, nil
}

func (t *WebSocketTransport) ensureConnected(ctx context.Context) (*websocket.Conn, error) {
	t.mu.Lock()
	state, conn := t.state, t.conn
	t.mu.Unlock()

	switch state {
	case stateConnected:
		return conn, nil
	case stateDisconnected:
		return nil, ErrConnectionClosed
	}

	if err := t.Connect(ctx); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, ErrConnectionClosed
	}
	return t.conn, nil
}

func (t *WebSocketTransport) register(p *pendingRequest) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != p.conn {
		return ErrConnectionClosed
	}
	t.pending[p.id] = p
	return nil
}

// take 移除并返回 id 对应的请求，只有取到请求的一方可以结束它
func (t *WebSocketTransport) take(id string) *pendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[id]
	if !ok {
		return nil
	}
	delete(t.pending, id)
	return p
}

func (t *WebSocketTransport) lookup(id string) *pendingRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending[id]
}

func (t *WebSocketTransport) send(ctx context.Context, conn *websocket.Conn, id string, req *Request) error {
	data, err := json.Marshal(requestFrame{
		Type:   frameTypeRequest,
		ID:     id,
		Method: req.method(),
		Path:   req.path(),
		Body:   req.Body,
	})
	if err != nil {
		return err
	}

	deadline := time.Now().Add(t.options.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err = conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	if err = conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return nil
}

func (t *WebSocketTransport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.connectionLost(conn, err)
			return
		}
		t.dispatch(data)
	}
}

func (t *WebSocketTransport) connectionLost(conn *websocket.Conn, cause error) {
	t.mu.Lock()
	current := t.conn == conn
	if current {
		t.conn = nil
		t.state = stateDisconnected
	}
	t.mu.Unlock()

	if current {
		log.Warn("websocket connection lost", "url", t.options.URL, "error", cause)
	}
	t.failPending(conn, fmt.Errorf("%w: %v", ErrConnectionClosed, cause))
}

func (t *WebSocketTransport) failPending(conn *websocket.Conn, err error) {
	t.mu.Lock()
	var failed []*pendingRequest
	for id, p := range t.pending {
		if p.conn == conn {
			failed = append(failed, p)
			delete(t.pending, id)
		}
	}
	t.mu.Unlock()

	for _, p := range failed {
		p.fail(err)
	}
}

func (t *WebSocketTransport) dispatch(data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		log.Warn("failed to parse websocket frame", "frame", string(data), "error", err)
		return
	}

	switch {
	case frame.Type == frameTypeError:
		t.handleError(&frame)
	case frame.Type == frameTypeStreamChunk, frame.Type == "" && frame.Data != nil:
		t.handleChunk(&frame)
	case frame.Type == frameTypeResponse, frame.Type == "" && frame.Status != 0:
		t.handleResponse(&frame)
	default:
		log.Warn("unknown websocket frame", "type", frame.Type, "id", frame.ID)
	}
}

func (t *WebSocketTransport) handleResponse(frame *inboundFrame) {
	if !frame.Done {
		return
	}
	p := t.take(frame.ID)
	if p == nil {
		log.Warn("response for unknown request", "id", frame.ID, "status", frame.Status)
		return
	}
	p.complete(&Response{StatusCode: frame.Status, Body: responseBody(frame.Body)})
}

func (t *WebSocketTransport) handleChunk(frame *inboundFrame) {
	p := t.lookup(frame.ID)
	if p == nil || p.stream == nil {
		log.Warn("stream chunk for unknown request", "id", frame.ID)
		return
	}
	p.idle.Reset(t.options.StreamIdleTimeout)
	p.stream.write(sse.FormatChunk(frame.Event, chunkData(*frame.Data)))
}

func (t *WebSocketTransport) handleError(frame *inboundFrame) {
	err := &FrameError{StatusCode: frame.Status, Code: frame.Code, Message: frame.Message}
	if frame.ID == "" {
		log.Error("websocket connection error", "code", frame.Code, "message", frame.Message, "status", frame.Status)
		return
	}
	p := t.take(frame.ID)
	if p == nil {
		log.Warn("error for unknown request", "id", frame.ID, "code", frame.Code)
		return
	}
	p.fail(err)
}

func (p *pendingRequest) release() {
	if p.idle != nil {
		p.idle.Stop()
	}
	if p.stop != nil {
		p.stop()
	}
}

func (p *pendingRequest) complete(resp *Response) {
	p.release()
	if p.stream == nil {
		p.result <- fetchResult{resp: resp}
	} else if resp.StatusCode/100 == 2 {
		p.stream.write(sse.FormatDone())
		p.stream.finish(io.EOF)
	} else {
		p.stream.finish(&StatusError{StatusCode: resp.StatusCode, Body: resp.Body})
	}
}

func (p *pendingRequest) fail(err error) {
	p.release()
	if p.stream == nil {
		p.result <- fetchResult{err: err}
	} else {
		p.stream.finish(err)
	}
}

// responseBody 还原 HTTP 响应体：JSON 字符串还原为原始文本，null 视为空
func responseBody(raw json.RawMessage) []byte {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var text string
	if raw[0] == '"' && json.Unmarshal(raw, &text) == nil {
		return []byte(text)
	}
	return raw
}

func chunkData(raw json.RawMessage) string {
	var text string
	if len(raw) > 0 && raw[0] == '"' && json.Unmarshal(raw, &text) == nil {
		return text
	}
	return string(raw)
}
