// Package flock 提供基于文件的跨进程互斥锁，Unix 使用 flock(2)，Windows 使用 LockFileEx。
// 锁随文件描述符释放，进程异常退出时由内核自动回收，不会留下需要人工清理的陈旧锁。
package flock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoLock 表示锁已被其它进程持有。
var ErrNoLock = errors.New("did not acquire lock")

// Flock 持有一个打开的锁文件。
type Flock struct {
	fp *os.File
}

// Open 打开（必要时创建）锁文件及其父目录。
func Open(path string) (*Flock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	fp, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	return &Flock{fp: fp}, nil
}

// Close 关闭文件，同时释放仍持有的锁。
func (lk *Flock) Close() error {
	return lk.fp.Close()
}

// TryLock 尝试一次非阻塞加锁，锁被占用时返回 ErrNoLock。
func (lk *Flock) TryLock() error {
	return lk.sysTryLock()
}

// Unlock 释放锁，文件保持打开。
func (lk *Flock) Unlock() error {
	return lk.sysUnlock()
}
