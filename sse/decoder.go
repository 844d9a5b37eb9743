package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/qiniu/sandbox-sdk-go/internal/log"
)

// ErrAborted 表示事件编码或解析被调用方取消
var ErrAborted = errors.New("sse: operation aborted")

const readChunkSize = 4096

// Decoder 从字节流中增量解析事件
//
// 只处理以 "data: " 开头的行：[DONE] 结束解析，空数据被跳过，无法解析为 JSON 的行记录日志后跳过。
// 其余行（空行、注释、event/id/retry 字段）全部忽略。Decoder 不可重复使用。
type Decoder struct {
	ctx    context.Context
	r      io.Reader
	buf    []byte
	eof    bool
	done   bool
	chunk  []byte
	closer io.Closer
}

// NewDecoder 创建解析 r 的 Decoder，ctx 取消后下一次 Next 返回 ErrAborted
func NewDecoder(ctx context.Context, r io.Reader) *Decoder {
	d := &Decoder{ctx: ctx, r: r, chunk: make([]byte, readChunkSize)}
	if c, ok := r.(io.Closer); ok {
		d.closer = c
	}
	return d
}

// Next 返回下一个事件的原始 JSON，事件流结束时返回 io.EOF
func (d *Decoder) Next() (json.RawMessage, error) {
	for {
		if err := d.ctx.Err(); err != nil {
			d.done = true
			return nil, errors.Join(ErrAborted, err)
		}
		if d.done {
			return nil, io.EOF
		}

		if i := bytes.IndexByte(d.buf, '\n'); i >= 0 {
			line := d.buf[:i]
			d.buf = d.buf[i+1:]
			if event, ok := d.parseLine(line); ok {
				return event, nil
			}
			continue
		}

		if d.eof {
			line := d.buf
			d.buf = nil
			d.done = true
			if len(line) > 0 {
				if event, ok := d.parseLine(line); ok {
					return event, nil
				}
			}
			return nil, io.EOF
		}

		n, err := d.r.Read(d.chunk)
		if n > 0 {
			d.buf = append(d.buf, d.chunk[:n]...)
		}
		if err == io.EOF {
			d.eof = true
		} else if err != nil {
			d.done = true
			if ctxErr := d.ctx.Err(); ctxErr != nil {
				return nil, errors.Join(ErrAborted, ctxErr)
			}
			return nil, err
		}
	}
}

// Close 停止解析并关闭底层 Reader（如果可以关闭）
func (d *Decoder) Close() error {
	d.done = true
	if d.closer != nil {
		return d.closer.Close()
	}
	return nil
}

func (d *Decoder) parseLine(line []byte) (json.RawMessage, bool) {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		return nil, false
	}
	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if string(payload) == doneMarker {
		d.done = true
		d.buf = nil
		return nil, false
	}
	if len(payload) == 0 {
		return nil, false
	}
	var raw json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		log.Warn("failed to parse event data", "line", string(line), "error", err)
		return nil, false
	}
	return raw, true
}

// Decode 解析 r 中的所有事件并逐个以 T 类型传给 fn，fn 返回错误时停止
//
// 无法转换为 T 的事件记录日志后跳过。
func Decode[T any](ctx context.Context, r io.Reader, fn func(T) error) error {
	d := NewDecoder(ctx, r)
	for {
		raw, err := d.Next()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
		var event T
		if err = json.Unmarshal(raw, &event); err != nil {
			log.Warn("failed to decode event", "data", string(raw), "error", err)
			continue
		}
		if err = fn(event); err != nil {
			return err
		}
	}
}
