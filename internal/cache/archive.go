package cache

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

// extractFunc 将 data 解包到 dest。
type extractFunc func(ctx context.Context, data []byte, dest string, opts extractOptions) error

type extractOptions struct {
	// unescape 为 true 时按 OPC 约定还原 URL 编码的条目名。
	unescape bool
	// maxBytes 是全部条目解包后的字节上限。
	maxBytes   int64
	afterEntry func(string) error
}

func extractorFor(ext string) (extractFunc, error) {
	switch ext {
	case "nupkg", "zip", "jar", "whl":
		return extractZip, nil
	case "tgz", "tar.gz":
		return extractTarGz, nil
	default:
		return nil, fmt.Errorf("unsupported artifact extension %q", ext)
	}
}

// SupportsExtension 判断制品扩展名是否有对应的解包实现。
func SupportsExtension(ext string) bool {
	_, err := extractorFor(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), "."))
	return err == nil
}

// nupkg 内的打包元数据，解包时跳过。
func isPackagingMetadata(name string) bool {
	lower := strings.ToLower(name)
	return lower == "[content_types].xml" ||
		strings.HasPrefix(lower, "_rels/") ||
		strings.HasPrefix(lower, "package/")
}

func extractZip(ctx context.Context, data []byte, dest string, opts extractOptions) error {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return corrupt("open zip: %v", err)
	}
	budget := newSizeBudget(opts.maxBytes)

	for _, file := range reader.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := file.Name
		if opts.unescape {
			if decoded, err := url.PathUnescape(name); err == nil {
				name = decoded
			}
		}
		if opts.unescape && isPackagingMetadata(name) {
			continue
		}
		target, err := entryTarget(dest, name)
		if err != nil {
			return err
		}

		if file.FileInfo().IsDir() || strings.HasSuffix(name, "/") {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}

		// 声明的大小可能被伪造，这里只做提前拒绝，真正的限制在写出时计数。
		if file.UncompressedSize64 > uint64(budget.remaining) {
			return budget.exceeded()
		}
		rc, err := file.Open()
		if err != nil {
			return corrupt("open entry %s: %v", name, err)
		}
		err = writeEntry(ctx, target, budget.reader(rc), 0o644|file.Mode().Perm()&0o111)
		rc.Close()
		if err != nil {
			return err
		}
		if opts.afterEntry != nil {
			if err := opts.afterEntry(name); err != nil {
				return err
			}
		}
	}
	return nil
}

func extractTarGz(ctx context.Context, data []byte, dest string, opts extractOptions) error {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return corrupt("open gzip: %v", err)
	}
	defer gz.Close()
	budget := newSizeBudget(opts.maxBytes)

	tr := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return corrupt("read tar header: %v", err)
		}
		target, err := entryTarget(dest, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		case tar.TypeReg:
			mode := os.FileMode(0o644) | os.FileMode(header.Mode)&0o111
			if err := writeEntry(ctx, target, budget.reader(tr), mode); err != nil {
				return err
			}
		default:
			// 链接与设备文件不进入缓存。
			continue
		}
		if opts.afterEntry != nil {
			if err := opts.afterEntry(header.Name); err != nil {
				return err
			}
		}
	}
}

// entryTarget 拒绝绝对路径与 .. 越界条目。
func entryTarget(dest, name string) (string, error) {
	clean := path.Clean(strings.ReplaceAll(name, `\`, "/"))
	if clean == "." || clean == "/" {
		return dest, nil
	}
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") || filepath.VolumeName(clean) != "" {
		return "", corrupt("entry %q escapes the package directory", name)
	}
	return filepath.Join(dest, filepath.FromSlash(clean)), nil
}

func writeEntry(ctx context.Context, target string, src io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	_, err = copyWithContext(ctx, f, src)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	return err
}

// corruptReader 将解压阶段的读错误（校验和、截断）标记为 ErrCorruptArchive。
type corruptReader struct {
	r io.Reader
}

func (c corruptReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	return n, err
}

// sizeBudget 累计一个制品解包写出的字节数，超出上限按损坏归档处理。
type sizeBudget struct {
	limit     int64
	remaining int64
}

func newSizeBudget(limit int64) *sizeBudget {
	if limit <= 0 {
		limit = defaultMaxExtracted
	}
	return &sizeBudget{limit: limit, remaining: limit}
}

func (b *sizeBudget) exceeded() error {
	return corrupt("extracted content exceeds %d bytes", b.limit)
}

func (b *sizeBudget) reader(r io.Reader) io.Reader {
	return &budgetReader{r: corruptReader{r}, budget: b}
}

type budgetReader struct {
	r      io.Reader
	budget *sizeBudget
}

// Read 最多多读一个字节，用来区分“恰好用完”与“超出上限”。
func (br *budgetReader) Read(p []byte) (int, error) {
	if limit := br.budget.remaining + 1; int64(len(p)) > limit {
		p = p[:limit]
	}
	n, err := br.r.Read(p)
	br.budget.remaining -= int64(n)
	if br.budget.remaining < 0 {
		return n, br.budget.exceeded()
	}
	return n, err
}
