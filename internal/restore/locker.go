package restore

import (
	"errors"
	"fmt"

	"github.com/any-hub/pkg-restore/internal/cache"
	"github.com/any-hub/pkg-restore/internal/flock"
	"github.com/any-hub/pkg-restore/internal/identity"
)

// Locker 提供跨进程的 identity 级互斥。TryLock 不阻塞，锁被占用时返回
// ErrConcurrencyConflict；成功时返回的 release 必须被调用。
type Locker interface {
	TryLock(id identity.Identity) (release func(), err error)
}

// FileLocker 在缓存根目录下为每个 identity 维护一个锁文件。
// 锁文件在释放后保留，删除会让并发的持有者锁住不同的 inode。
type FileLocker struct {
	store cache.Store
}

// NewFileLocker 以 store.LockPath 为锁文件位置。
func NewFileLocker(store cache.Store) *FileLocker {
	return &FileLocker{store: store}
}

func (l *FileLocker) TryLock(id identity.Identity) (func(), error) {
	path, err := l.store.LockPath(id)
	if err != nil {
		return nil, err
	}
	lk, err := flock.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open lock %s: %w", path, err)
	}
	if err := lk.TryLock(); err != nil {
		_ = lk.Close()
		if errors.Is(err, flock.ErrNoLock) {
			return nil, ErrConcurrencyConflict
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	return func() {
		_ = lk.Unlock()
		_ = lk.Close()
	}, nil
}

// NopLocker 用于只有单个进程访问缓存的场景，状态表已足够互斥。
type NopLocker struct{}

func (NopLocker) TryLock(identity.Identity) (func(), error) {
	return func() {}, nil
}
