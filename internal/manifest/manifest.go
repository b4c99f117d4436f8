// Package manifest 从项目文件中采集包引用记录。支持 SDK/旧式 MSBuild 项目
// (*.csproj/*.fsproj/*.vbproj)、packages.config 以及 *.packages.yaml 清单。
package manifest

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/any-hub/pkg-restore/internal/identity"
)

// Error 表示 manifest 无法解析，调用方通常记录日志后跳过该文件。
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("manifest %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrUnsupported 表示文件类型不在支持列表中。
var ErrUnsupported = errors.New("unsupported manifest type")

const yamlSuffix = ".packages.yaml"

var projectExts = map[string]struct{}{
	".csproj": {},
	".fsproj": {},
	".vbproj": {},
}

// IsManifest 判断文件名是否为可识别的 manifest。
func IsManifest(name string) bool {
	base := strings.ToLower(filepath.Base(name))
	if base == "packages.config" || strings.HasSuffix(base, yamlSuffix) {
		return true
	}
	_, ok := projectExts[filepath.Ext(base)]
	return ok
}

// Discover 返回 path 下（不递归）的全部 manifest；path 本身是文件时直接返回该文件。
func Discover(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat project path: %w", err)
	}
	if !info.IsDir() {
		if !IsManifest(path) {
			return nil, &Error{Path: path, Err: ErrUnsupported}
		}
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read project dir: %w", err)
	}
	var result []string
	for _, entry := range entries {
		if entry.IsDir() || !IsManifest(entry.Name()) {
			continue
		}
		result = append(result, filepath.Join(path, entry.Name()))
	}
	sort.Strings(result)
	return result, nil
}

// Read 解析单个 manifest，返回的记录 Source 字段均为 path。
func Read(path string) ([]identity.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}

	var records []identity.Record
	base := strings.ToLower(filepath.Base(path))
	switch {
	case strings.HasSuffix(base, yamlSuffix):
		records, err = parseYAML(data)
	case base == "packages.config":
		records, err = parsePackagesConfig(data)
	case IsManifest(base):
		records, err = parseProject(data)
	default:
		err = ErrUnsupported
	}
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	for i := range records {
		records[i].Source = path
	}
	return records, nil
}

// parseProject 逐个 token 扫描 PackageReference，兼容带命名空间的旧式项目文件，
// Version 既可以是属性也可以是子元素。
func parseProject(data []byte) ([]identity.Record, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var records []identity.Record
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "PackageReference" {
			continue
		}
		var ref packageReference
		if err := dec.DecodeElement(&ref, &start); err != nil {
			return nil, err
		}
		version := ref.VersionAttr
		if version == "" {
			version = strings.TrimSpace(ref.VersionElem)
		}
		records = append(records, identity.Record{Name: ref.Include, Version: version})
	}
}

type packageReference struct {
	Include     string `xml:"Include,attr"`
	VersionAttr string `xml:"Version,attr"`
	VersionElem string `xml:"Version"`
}

type packagesConfig struct {
	Packages []struct {
		ID      string `xml:"id,attr"`
		Version string `xml:"version,attr"`
	} `xml:"package"`
}

func parsePackagesConfig(data []byte) ([]identity.Record, error) {
	var cfg packagesConfig
	if err := xml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	records := make([]identity.Record, 0, len(cfg.Packages))
	for _, pkg := range cfg.Packages {
		records = append(records, identity.Record{Name: pkg.ID, Version: pkg.Version})
	}
	return records, nil
}

type yamlManifest struct {
	Packages []struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"packages"`
}

func parseYAML(data []byte) ([]identity.Record, error) {
	var doc yamlManifest
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	records := make([]identity.Record, 0, len(doc.Packages))
	for _, pkg := range doc.Packages {
		records = append(records, identity.Record{Name: pkg.Name, Version: pkg.Version})
	}
	return records, nil
}
