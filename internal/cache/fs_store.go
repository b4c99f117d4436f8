package cache

import (
	"bytes"
	"context"
	_ "crypto/sha512"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/opencontainers/go-digest"

	"github.com/any-hub/pkg-restore/internal/identity"
)

// NewStore 以 basePath 为根目录构建磁盘缓存，整个运行周期复用一份实例。
func NewStore(basePath string, opts Options) (Store, error) {
	if basePath == "" {
		return nil, errors.New("cache path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve cache path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache path: %w", err)
	}

	staging := opts.StagingPath
	if staging == "" {
		staging = filepath.Join(abs, stagingDirName)
	}
	if staging, err = filepath.Abs(staging); err != nil {
		return nil, fmt.Errorf("resolve staging path: %w", err)
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("create staging path: %w", err)
	}
	if err := checkPublishable(staging, abs); err != nil {
		return nil, err
	}

	ext := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(opts.ArtifactExt)), ".")
	if ext == "" {
		ext = defaultExt
	}
	extract, err := extractorFor(ext)
	if err != nil {
		return nil, err
	}

	size := opts.PresentCacheSize
	if size <= 0 {
		size = defaultPresent
	}
	present, err := lru.New[identity.Identity, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("create present cache: %w", err)
	}

	maxExtracted := opts.MaxExtractedSize
	if maxExtracted <= 0 {
		maxExtracted = defaultMaxExtracted
	}

	return &fileStore{
		basePath:     abs,
		stagingPath:  staging,
		ext:          ext,
		extract:      extract,
		maxExtracted: maxExtracted,
		present:      present,
		locks:        make(map[identity.Identity]*entryLock),
		now:          time.Now,
	}, nil
}

// renameDir 是发布使用的 rename，测试可替换它模拟跨文件系统失败。
var renameDir = os.Rename

// checkPublishable 在 staging 中建一个空目录并 rename 到缓存根目录，
// 两者不在同一文件系统时 rename 会失败，这里提前作为启动错误返回。
func checkPublishable(staging, root string) error {
	name := ".publish-check-" + uuid.NewString()
	src := filepath.Join(staging, name)
	if err := os.Mkdir(src, 0o755); err != nil {
		return fmt.Errorf("create staging check dir: %w", err)
	}
	dst := filepath.Join(root, name)
	if err := renameDir(src, dst); err != nil {
		_ = os.Remove(src)
		return fmt.Errorf("staging path %s cannot publish into %s (must be on the same filesystem): %w", staging, root, err)
	}
	return os.Remove(dst)
}

// fileStore 通过 entryLock 避免同进程内同一 identity 并发发布；跨进程互斥由上层的文件锁负责。
type fileStore struct {
	basePath     string
	stagingPath  string
	ext          string
	extract      extractFunc
	maxExtracted int64
	present      *lru.Cache[identity.Identity, struct{}]
	now          func() time.Time

	// afterEntry 在每个归档条目写出后调用，测试用它模拟解包中途失败。
	afterEntry func(name string) error

	mu    sync.Mutex
	locks map[identity.Identity]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Root() string {
	return s.basePath
}

func (s *fileStore) Exists(id identity.Identity) bool {
	if s.present.Contains(id) {
		return true
	}
	entryPath, err := s.EntryPath(id)
	if err != nil {
		return false
	}
	if !s.isComplete(entryPath, id) {
		return false
	}
	s.present.Add(id, struct{}{})
	return true
}

func (s *fileStore) Materialize(ctx context.Context, id identity.Identity, artifact []byte, opts MaterializeOptions) error {
	entryPath, err := s.EntryPath(id)
	if err != nil {
		return newError(id, err)
	}

	unlock := s.lockEntry(id)
	defer unlock()

	if s.isComplete(entryPath, id) {
		s.present.Add(id, struct{}{})
		return nil
	}
	if err := ensureVacant(entryPath); err != nil {
		return newError(id, err)
	}

	stage := filepath.Join(s.stagingPath, uuid.NewString())
	if err := os.MkdirAll(stage, 0o755); err != nil {
		return newError(id, err)
	}
	// rename 成功后 stage 已不存在，RemoveAll 为空操作。
	defer os.RemoveAll(stage)

	err = s.extract(ctx, artifact, stage, extractOptions{
		unescape:   s.ext == defaultExt,
		maxBytes:   s.maxExtracted,
		afterEntry: s.afterEntry,
	})
	if err != nil {
		return newError(id, err)
	}
	if err := writeFileSync(filepath.Join(stage, artifactFileName(id, s.ext)), artifact); err != nil {
		return newError(id, err)
	}
	if err := s.writeMarker(stage, id, artifact, opts); err != nil {
		return newError(id, err)
	}

	if err := os.MkdirAll(filepath.Dir(entryPath), 0o755); err != nil {
		return newError(id, err)
	}
	if err := renameDir(stage, entryPath); err != nil {
		// 另一个发布者抢先完成时视为成功。
		if s.isComplete(entryPath, id) {
			s.present.Add(id, struct{}{})
			return nil
		}
		return newError(id, fmt.Errorf("publish entry: %w", err))
	}

	s.present.Add(id, struct{}{})
	return nil
}

func (s *fileStore) EntryPath(id identity.Identity) (string, error) {
	if err := validateSegment(id.Name); err != nil {
		return "", err
	}
	if err := validateSegment(id.Version); err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, id.Name, id.Version), nil
}

func (s *fileStore) LockPath(id identity.Identity) (string, error) {
	if _, err := s.EntryPath(id); err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, locksDirName, id.Name, id.Version+".lock"), nil
}

// ensureVacant 确认最终路径可以发布。空目录直接移除；
// 已有内容但没有任何完成信号的目录不是本工具写入的，保留原样并报错。
func ensureVacant(entryPath string) error {
	info, err := os.Lstat(entryPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.IsDir() && os.Remove(entryPath) == nil {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrForeignEntry, entryPath)
}

func (s *fileStore) writeMarker(stage string, id identity.Identity, artifact []byte, opts MaterializeOptions) error {
	restoredAt := opts.RestoredAt
	if restoredAt.IsZero() {
		restoredAt = s.now().UTC()
	}
	meta := Metadata{
		Format:     metadataFormat,
		Name:       id.Name,
		Version:    id.Version,
		Source:     opts.SourceURL,
		Digest:     digest.SHA512.FromBytes(artifact),
		RestoredAt: restoredAt,
	}
	payload, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return writeFileSync(filepath.Join(stage, MarkerFile), payload)
}

func (s *fileStore) lockEntry(id identity.Identity) func() {
	s.mu.Lock()
	lock := s.locks[id]
	if lock == nil {
		lock = &entryLock{}
		s.locks[id] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

// ReadMetadata 读取并校验条目的完成标记。
func ReadMetadata(entryPath string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(entryPath, MarkerFile))
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode %s: %w", MarkerFile, err)
	}
	if err := meta.Digest.Validate(); err != nil {
		return nil, fmt.Errorf("%s digest: %w", MarkerFile, err)
	}
	return &meta, nil
}

// isComplete 接受本工具的完成标记，也接受其它还原器留下的完成信号：
// NuGet 的 .nupkg.metadata，或与条目同名的制品文件（NuGet 目录为小写文件名）。
func (s *fileStore) isComplete(entryPath string, id identity.Identity) bool {
	if meta, err := ReadMetadata(entryPath); err == nil {
		return meta.Name == id.Name && meta.Version == id.Version
	}
	artifact := artifactFileName(id, s.ext)
	for _, name := range []string{ForeignMarkerFile, artifact, strings.ToLower(artifact)} {
		if info, err := os.Stat(filepath.Join(entryPath, name)); err == nil && info.Mode().IsRegular() {
			return true
		}
	}
	return false
}

func validateSegment(segment string) error {
	switch {
	case segment == "", segment == ".", segment == "..":
		return fmt.Errorf("%w: %q", ErrInvalidIdentity, segment)
	case strings.HasPrefix(segment, "."):
		return fmt.Errorf("%w: %q starts with a dot", ErrInvalidIdentity, segment)
	case strings.ContainsAny(segment, `/\:`), strings.ContainsRune(segment, 0):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidIdentity, segment)
	}
	return nil
}

func artifactFileName(id identity.Identity, ext string) string {
	return id.Name + "." + id.Version + "." + ext
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	_, err = copyWithContext(context.Background(), f, bytes.NewReader(data))
	if err == nil {
		err = f.Sync()
	}
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	return err
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
