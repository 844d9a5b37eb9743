package sandbox

import (
	"errors"
	"net/http"

	sdkerrors "github.com/qiniu/sandbox-sdk-go/errors"
)

// IsNotFound 判断错误是否为"未找到"类型，例如文件、进程不存在。
func IsNotFound(err error) bool {
	var apiErr *sdkerrors.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// isTransient 判断错误是否可能在容器就绪后消失：非 API 错误或 5xx。
func isTransient(err error) bool {
	var apiErr *sdkerrors.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusInternalServerError
	}
	return true
}
