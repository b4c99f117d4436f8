package cache

import (
	"errors"
	"fmt"

	"github.com/any-hub/pkg-restore/internal/identity"
)

// ErrorKind 区分缓存层的失败类型。
type ErrorKind string

const (
	KindIOFailure      ErrorKind = "io_failure"
	KindCorruptArchive ErrorKind = "corrupt_archive"
)

var (
	// ErrIOFailure 匹配所有磁盘读写失败。
	ErrIOFailure = errors.New("cache io failure")
	// ErrCorruptArchive 匹配无法解包的制品。
	ErrCorruptArchive = errors.New("corrupt archive")
	// ErrForeignEntry 表示最终路径上已有无法识别为完整条目的内容。
	ErrForeignEntry = errors.New("foreign entry at path")
	// ErrInvalidIdentity 表示 name/version 无法安全映射为目录名。
	ErrInvalidIdentity = errors.New("invalid identity for cache path")
)

// Error 描述一次 Materialize 失败。
type Error struct {
	Kind     ErrorKind
	Identity identity.Identity
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("materialize %s: %s: %v", e.Identity, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 让 errors.Is(err, ErrIOFailure/ErrCorruptArchive) 按 Kind 匹配。
func (e *Error) Is(target error) bool {
	switch target {
	case ErrIOFailure:
		return e.Kind == KindIOFailure
	case ErrCorruptArchive:
		return e.Kind == KindCorruptArchive
	}
	return false
}

func newError(id identity.Identity, err error) *Error {
	kind := KindIOFailure
	if errors.Is(err, ErrCorruptArchive) {
		kind = KindCorruptArchive
	}
	return &Error{Kind: kind, Identity: id, Err: err}
}

func corrupt(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrCorruptArchive, fmt.Sprintf(format, args...))
}
