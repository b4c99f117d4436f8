// Package repotest 提供一个内存中的包仓库模拟器，按 artifactory 布局响应 GET 请求，
// 并记录每个路径的命中次数，供还原流程测试断言拉取次数。
package repotest

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/any-hub/pkg-restore/internal/identity"
)

// Server 是仓库模拟器。未登记的路径返回 404。
type Server struct {
	URL string

	server   *http.Server
	listener net.Listener

	mu        sync.Mutex
	artifacts map[string][]byte
	statuses  map[string]int
	hits      map[string]int
	delay     time.Duration
}

// NewServer 启动监听 127.0.0.1 随机端口的模拟仓库，测试结束时自动关闭。
func NewServer(t testing.TB) *Server {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("unable to start repository stub listener: %v", err)
	}
	s := &Server{
		URL:       "http://" + listener.Addr().String(),
		listener:  listener,
		artifacts: make(map[string][]byte),
		statuses:  make(map[string]int),
		hits:      make(map[string]int),
	}
	s.server = &http.Server{Handler: http.HandlerFunc(s.serve)}
	go func() {
		_ = s.server.Serve(listener)
	}()
	t.Cleanup(s.Close)
	return s
}

// Close 关闭监听，可重复调用。
func (s *Server) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.server.Shutdown(ctx)
	_ = s.listener.Close()
}

// Serve 登记 identity 对应的 nupkg，内容由 files 构建。
func (s *Server) Serve(t testing.TB, id identity.Identity, files map[string]string) {
	t.Helper()
	s.ServeBytes(id, MustNupkg(t, files))
}

// ServeBytes 登记任意制品字节。
func (s *Server) ServeBytes(id identity.Identity, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[Path(id)] = data
	delete(s.statuses, Path(id))
}

// ServeStatus 让 identity 固定返回给定状态码。
func (s *Server) ServeStatus(id identity.Identity, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[Path(id)] = status
}

// SetDelay 为每个响应增加固定延迟，用于放大并发窗口。
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Hits 返回 identity 被请求的次数。
func (s *Server) Hits(id identity.Identity) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[Path(id)]
}

// TotalHits 返回全部请求次数。
func (s *Server) TotalHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.hits {
		total += n
	}
	return total
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits[r.URL.Path]++
	data, ok := s.artifacts[r.URL.Path]
	status, forced := s.statuses[r.URL.Path]
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if forced {
		w.WriteHeader(status)
		return
	}
	if r.Method != http.MethodGet || !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

// Path 返回 artifactory 布局下 nupkg 的请求路径。
func Path(id identity.Identity) string {
	return "/" + id.Name + "/" + id.Version + "/" + id.Name + "." + id.Version + ".nupkg"
}

// MustNupkg 构建包含 files 及 NuGet 打包元数据的 zip。
func MustNupkg(t testing.TB, files map[string]string) []byte {
	t.Helper()
	names := make([]string, 0, len(files)+1)
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	entries := append([]string{"[Content_Types].xml"}, names...)
	for _, name := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		content := files[name]
		if name == "[Content_Types].xml" {
			content = "<Types/>"
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}
