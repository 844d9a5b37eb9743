package sandbox

import (
	"context"
	"encoding/base64"
	"net/http"
)

// Encoding 文件内容编码。
type Encoding string

const (
	EncodingUTF8   Encoding = "utf-8"
	EncodingBase64 Encoding = "base64"
)

// FilesystemOption 文件系统操作选项。
type FilesystemOption func(*filesystemOpts)

type filesystemOpts struct {
	encoding  Encoding
	recursive bool
	sessionID string
}

// WithEncoding 设置读写文件时使用的编码，默认 utf-8。
func WithEncoding(encoding Encoding) FilesystemOption {
	return func(o *filesystemOpts) { o.encoding = encoding }
}

// WithRecursive 创建目录时创建所有父目录。
func WithRecursive() FilesystemOption {
	return func(o *filesystemOpts) { o.recursive = true }
}

// WithFileSessionID 指定文件操作所属的会话。
func WithFileSessionID(id string) FilesystemOption {
	return func(o *filesystemOpts) { o.sessionID = id }
}

func applyFilesystemOpts(opts []FilesystemOption) *filesystemOpts {
	o := &filesystemOpts{}
	for _, fn := range opts {
		fn(o)
	}
	return o
}

type fileRequest struct {
	Path      string   `json:"path"`
	Content   *string  `json:"content,omitempty"`
	Encoding  Encoding `json:"encoding,omitempty"`
	Recursive bool     `json:"recursive,omitempty"`
	SessionID string   `json:"sessionId,omitempty"`
}

// Files 提供沙箱文件系统操作。
type Files struct {
	sandbox *Sandbox
}

// Read 读取文件内容。
func (f *Files) Read(ctx context.Context, path string, opts ...FilesystemOption) (*ReadFileResult, error) {
	o := applyFilesystemOpts(opts)
	var ret ReadFileResult
	req := &fileRequest{Path: path, Encoding: o.encoding, SessionID: o.sessionID}
	if err := f.sandbox.client.DoJSON(ctx, http.MethodPost, "/api/read", req, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

// ReadBytes 读取文件内容，base64 编码的内容会被解码。
func (f *Files) ReadBytes(ctx context.Context, path string, opts ...FilesystemOption) ([]byte, error) {
	ret, err := f.Read(ctx, path, opts...)
	if err != nil {
		return nil, err
	}
	if Encoding(ret.Encoding) == EncodingBase64 {
		return base64.StdEncoding.DecodeString(ret.Content)
	}
	return []byte(ret.Content), nil
}

// Write 写入文件，文件已存在时覆盖。
func (f *Files) Write(ctx context.Context, path, content string, opts ...FilesystemOption) (*FileOperationResult, error) {
	o := applyFilesystemOpts(opts)
	req := &fileRequest{Path: path, Content: &content, Encoding: o.encoding, SessionID: o.sessionID}
	return f.do(ctx, "/api/write", req)
}

// WriteBytes 以 base64 编码写入二进制内容。
func (f *Files) WriteBytes(ctx context.Context, path string, data []byte, opts ...FilesystemOption) (*FileOperationResult, error) {
	opts = append(opts, WithEncoding(EncodingBase64))
	return f.Write(ctx, path, base64.StdEncoding.EncodeToString(data), opts...)
}

// MakeDir 创建目录。
func (f *Files) MakeDir(ctx context.Context, path string, opts ...FilesystemOption) (*FileOperationResult, error) {
	o := applyFilesystemOpts(opts)
	return f.do(ctx, "/api/mkdir", &fileRequest{Path: path, Recursive: o.recursive, SessionID: o.sessionID})
}

// Delete 删除文件。
func (f *Files) Delete(ctx context.Context, path string, opts ...FilesystemOption) (*FileOperationResult, error) {
	o := applyFilesystemOpts(opts)
	return f.do(ctx, "/api/delete", &fileRequest{Path: path, SessionID: o.sessionID})
}

// Exists 判断文件或目录是否存在。
func (f *Files) Exists(ctx context.Context, path string, opts ...FilesystemOption) (bool, error) {
	o := applyFilesystemOpts(opts)
	var ret existsResult
	req := &fileRequest{Path: path, SessionID: o.sessionID}
	if err := f.sandbox.client.DoJSON(ctx, http.MethodPost, "/api/exists", req, &ret); err != nil {
		return false, err
	}
	return ret.Exists, nil
}

func (f *Files) do(ctx context.Context, path string, req *fileRequest) (*FileOperationResult, error) {
	var ret FileOperationResult
	if err := f.sandbox.client.DoJSON(ctx, http.MethodPost, path, req, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}
