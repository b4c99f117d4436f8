package cache

import (
	"context"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/any-hub/pkg-restore/internal/identity"
)

// Store 负责共享缓存目录的存在性判断与原子化落盘。已有条目（包括其它工具写入的）从不删除。磁盘布局：
//
//	<CachePath>/<name>/<version>/...                  # 解包后的内容
//	<CachePath>/<name>/<version>/<name>.<version>.<ext>
//	<CachePath>/<name>/<version>/.pkgrestore.metadata # 完成标记，最后写入
//	<StagingPath>/<uuid>/                             # 解包中的临时目录
//	<CachePath>/.locks/<name>/<version>.lock          # 跨进程锁文件
type Store interface {
	// Exists 仅在条目完整发布（含完成标记）时返回 true。
	Exists(id identity.Identity) bool

	// Materialize 将制品解包到 staging 目录，成功后 rename 到最终路径。
	// 任一步骤失败都会清理 staging，Exists 继续返回 false。
	Materialize(ctx context.Context, id identity.Identity, artifact []byte, opts MaterializeOptions) error

	// EntryPath 返回条目的最终路径；name/version 非法时返回错误。
	EntryPath(id identity.Identity) (string, error)

	// LockPath 返回该 identity 的跨进程锁文件路径。
	LockPath(id identity.Identity) (string, error)

	// Root 返回缓存根目录的绝对路径。
	Root() string
}

// MaterializeOptions 记录写入完成标记时附带的来源信息。
type MaterializeOptions struct {
	SourceURL  string
	RestoredAt time.Time
}

// Options 控制 NewStore 的可选行为。
type Options struct {
	// StagingPath 为空时使用 <CachePath>/.staging；必须与缓存根目录位于同一文件系统。
	StagingPath string
	// ArtifactExt 决定解包格式，默认 nupkg。
	ArtifactExt string
	// PresentCacheSize 为已确认存在条目的内存记忆容量，默认 4096。
	PresentCacheSize int
	// MaxExtractedSize 限制单个制品解包后的总字节数，默认 4 GiB。
	MaxExtractedSize int64
}

// Metadata 是完成标记文件的内容。
type Metadata struct {
	Format     int           `json:"format"`
	Name       string        `json:"name"`
	Version    string        `json:"version"`
	Source     string        `json:"source,omitempty"`
	Digest     digest.Digest `json:"digest"`
	RestoredAt time.Time     `json:"restored_at"`
}

const (
	// MarkerFile 是完成标记文件名，Exists 以它为准。
	MarkerFile = ".pkgrestore.metadata"
	// ForeignMarkerFile 是 dotnet restore 写入的完成标记，存在即视为条目完整。
	ForeignMarkerFile = ".nupkg.metadata"

	metadataFormat = 1
	stagingDirName = ".staging"
	locksDirName   = ".locks"
	defaultExt     = "nupkg"
	defaultPresent = 4096

	defaultMaxExtracted int64 = 4 << 30
)
