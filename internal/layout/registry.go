// Package layout 维护仓库 URL 布局注册表。每个布局负责把 identity 映射为
// 仓库下的相对路径，配置校验与 Fetcher 都通过 Resolve 取用。
package layout

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/any-hub/pkg-restore/internal/identity"
)

const defaultLayoutKey = "artifactory"

var globalRegistry = newRegistry()

// PathFunc 返回制品相对仓库根地址的路径（已做分段转义，不含前导 /）。
type PathFunc func(id identity.Identity, ext string) string

// Layout 记录一个布局的静态信息。
type Layout struct {
	Key         string
	Description string
	Path        PathFunc
}

type registry struct {
	mu      sync.RWMutex
	layouts map[string]Layout
}

func newRegistry() *registry {
	return &registry{layouts: make(map[string]Layout)}
}

// Register 将布局加入全局注册表，重复键会返回错误。
func Register(l Layout) error {
	return globalRegistry.register(l)
}

// MustRegister 在注册失败时 panic，适合 init() 中调用。
func MustRegister(l Layout) {
	if err := Register(l); err != nil {
		panic(err)
	}
}

// Resolve 返回指定键的布局。
func Resolve(key string) (Layout, bool) {
	return globalRegistry.resolve(key)
}

// DefaultKey 返回默认布局键。
func DefaultKey() string {
	return defaultLayoutKey
}

// Keys 返回排序后的全部布局键，供校验错误信息使用。
func Keys() []string {
	return globalRegistry.keys()
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (r *registry) register(l Layout) error {
	key := normalizeKey(l.Key)
	if key == "" {
		return fmt.Errorf("layout key is required")
	}
	if l.Path == nil {
		return fmt.Errorf("layout %s has no path func", key)
	}
	l.Key = key

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.layouts[key]; exists {
		return fmt.Errorf("layout %s already registered", key)
	}
	r.layouts[key] = l
	return nil
}

func (r *registry) resolve(key string) (Layout, bool) {
	normalized := normalizeKey(key)
	if normalized == "" {
		return Layout{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.layouts[normalized]
	return l, ok
}

func (r *registry) keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.layouts))
	for key := range r.layouts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
