package fetch

import (
	"errors"
	"fmt"
)

// ErrorKind 区分拉取失败的类型。
type ErrorKind string

const (
	// KindNotFound 表示仓库返回了非 2xx 状态码（5xx 在重试耗尽后同样归入此类）。
	KindNotFound ErrorKind = "not_found"
	// KindTransport 表示连接、超时、读取或体积超限等传输层失败。
	KindTransport ErrorKind = "transport"
)

var (
	ErrNotFound  = errors.New("artifact not found")
	ErrTransport = errors.New("transport failure")
)

// Error 描述一次 Fetch 失败，Status 仅在 KindNotFound 时有意义。
type Error struct {
	Kind   ErrorKind
	Status int
	URL    string
	Err    error
}

func (e *Error) Error() string {
	if e.Kind == KindNotFound {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 让 errors.Is(err, ErrNotFound/ErrTransport) 按 Kind 匹配。
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrTransport:
		return e.Kind == KindTransport
	}
	return false
}

func (e *Error) retryable() bool {
	return e.Kind == KindNotFound && e.Status >= 500
}
