package transport

import (
	"bytes"
	"io"
	"sync"
)

// streamSink 缓冲某个流式请求收到的事件帧
//
// 读取循环只向其中追加数据，不会因为读取方缓慢而阻塞其他请求。
type streamSink struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	err     error
	closed  bool
	wrote   bool
	notify  chan struct{}
	started chan struct{}
	once    sync.Once
	onClose func()
}

func newStreamSink() *streamSink {
	return &streamSink{
		notify:  make(chan struct{}, 1),
		started: make(chan struct{}),
	}
}

func (s *streamSink) signal() {
	s.once.Do(func() { close(s.started) })
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *streamSink) write(p []byte) {
	s.mu.Lock()
	if s.err != nil || s.closed {
		s.mu.Unlock()
		return
	}
	s.buf.Write(p)
	s.wrote = true
	s.mu.Unlock()
	s.signal()
}

// finish 设置终止原因，正常结束时为 io.EOF，已缓冲的数据仍可读出
func (s *streamSink) finish(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.signal()
}

// failedBeforeData 在没有收到任何数据就失败时返回失败原因
func (s *streamSink) failedBeforeData() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.wrote && s.err != nil && s.err != io.EOF {
		return s.err
	}
	return nil
}

func (s *streamSink) Read(p []byte) (int, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return 0, io.ErrClosedPipe
		}
		if s.buf.Len() > 0 {
			n, _ := s.buf.Read(p)
			s.mu.Unlock()
			return n, nil
		}
		if s.err != nil {
			err := s.err
			s.mu.Unlock()
			return 0, err
		}
		s.mu.Unlock()
		<-s.notify
	}
}

func (s *streamSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.buf.Reset()
	s.mu.Unlock()
	s.signal()

	if s.onClose != nil {
		s.onClose()
	}
	return nil
}
