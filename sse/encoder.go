package sse

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

type (
	// Source 是惰性的事件来源，每产生一个事件调用一次 yield
	//
	// yield 返回错误时（下游停止读取或 ctx 取消）Source 应当尽快返回。
	Source[T any] func(ctx context.Context, yield func(T) error) error

	// Serializer 将事件序列化为 data 字段的内容，不能包含换行
	Serializer[T any] func(T) ([]byte, error)

	EncodeOption[T any] func(*encodeOptions[T])

	encodeOptions[T any] struct {
		serializer Serializer[T]
	}
)

const (
	dataPrefix = "data: "
	doneMarker = "[DONE]"
)

// WithSerializer 设置自定义序列化函数，默认使用 encoding/json
func WithSerializer[T any](fn Serializer[T]) EncodeOption[T] {
	return func(o *encodeOptions[T]) { o.serializer = fn }
}

// FromSlice 返回依次产生 events 中元素的 Source
func FromSlice[T any](events []T) Source[T] {
	return func(ctx context.Context, yield func(T) error) error {
		for _, event := range events {
			if err := yield(event); err != nil {
				return err
			}
		}
		return nil
	}
}

// FromChannel 返回从 ch 读取事件直到 ch 被关闭的 Source
func FromChannel[T any](ch <-chan T) Source[T] {
	return func(ctx context.Context, yield func(T) error) error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case event, ok := <-ch:
				if !ok {
					return nil
				}
				if err := yield(event); err != nil {
					return err
				}
			}
		}
	}
}

// Encode 将 src 中的每个事件编码为 "data: <json>\n\n" 写入 w，结束后写入 "data: [DONE]\n\n"
//
// w 实现 http.Flusher 时每个事件写入后都会 Flush。ctx 取消或写入失败时停止读取 src 并返回错误，
// 此时不会写入结束标记。
func Encode[T any](ctx context.Context, w io.Writer, src Source[T], opts ...EncodeOption[T]) error {
	o := encodeOptions[T]{serializer: func(v T) ([]byte, error) { return json.Marshal(v) }}
	for _, opt := range opts {
		opt(&o)
	}

	flusher, _ := w.(http.Flusher)
	write := func(payload []byte) error {
		buf := make([]byte, 0, len(dataPrefix)+len(payload)+2)
		buf = append(buf, dataPrefix...)
		buf = append(buf, payload...)
		buf = append(buf, '\n', '\n')
		if _, err := w.Write(buf); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	if err := ctx.Err(); err != nil {
		return abortedError(err)
	}
	err := src(ctx, func(event T) error {
		if err := ctx.Err(); err != nil {
			return abortedError(err)
		}
		payload, err := o.serializer(event)
		if err != nil {
			return err
		}
		return write(payload)
	})
	if err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return abortedError(err)
	}
	return write([]byte(doneMarker))
}

// FormatDone 返回流正常结束时的结束帧 "data: [DONE]\n\n"
func FormatDone() []byte {
	return FormatChunk("", doneMarker)
}

// NewReader 在后台运行 Encode，并以 io.ReadCloser 的形式返回编码结果
//
// 关闭返回的 Reader 会取消编码并释放 src；ctx 取消时读取方会得到 ErrAborted。
func NewReader[T any](ctx context.Context, src Source[T], opts ...EncodeOption[T]) io.ReadCloser {
	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	go func() {
		defer cancel()
		pw.CloseWithError(Encode(ctx, pw, src, opts...))
	}()
	return &encodedReader{PipeReader: pr, cancel: cancel}
}

type encodedReader struct {
	*io.PipeReader
	cancel context.CancelFunc
}

func (r *encodedReader) Close() error {
	r.cancel()
	return r.PipeReader.Close()
}

// FormatChunk 将一条推送数据编码为与 HTTP 流相同的事件帧，event 为空时只输出 data 行
func FormatChunk(event, data string) []byte {
	var sb strings.Builder
	sb.Grow(len(event) + len(data) + 16)
	if event != "" {
		sb.WriteString("event: ")
		sb.WriteString(event)
		sb.WriteByte('\n')
	}
	sb.WriteString(dataPrefix)
	sb.WriteString(data)
	sb.WriteString("\n\n")
	return []byte(sb.String())
}

func abortedError(cause error) error {
	return errors.Join(ErrAborted, cause)
}
