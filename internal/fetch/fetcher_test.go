package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/pkg-restore/internal/config"
	"github.com/any-hub/pkg-restore/internal/identity"
)

var sampleID = identity.Identity{Name: "Newtonsoft.Json", Version: "13.0.3"}

func newTestFetcher(t *testing.T, baseURL string, mutate func(*Options)) *Fetcher {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	opts := Options{
		BaseURL:        baseURL,
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		Logger:         logger,
	}
	if mutate != nil {
		mutate(&opts)
	}
	f, err := New(opts)
	if err != nil {
		t.Fatalf("New 返回错误: %v", err)
	}
	return f
}

func TestFetchReturnsBody(t *testing.T) {
	var gotPath, gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotAgent = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte("artifact"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL+"/nuget/", nil)
	data, err := f.Fetch(context.Background(), sampleID)
	if err != nil {
		t.Fatalf("Fetch 返回错误: %v", err)
	}
	if string(data) != "artifact" {
		t.Fatalf("unexpected body %q", data)
	}
	if gotPath != "/nuget/Newtonsoft.Json/13.0.3/Newtonsoft.Json.13.0.3.nupkg" {
		t.Fatalf("unexpected request path %s", gotPath)
	}
	if !strings.HasPrefix(gotAgent, "pkg-restore/") {
		t.Fatalf("User-Agent 未设置: %s", gotAgent)
	}
}

func TestFetchNotFoundIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL, nil)
	_, err := f.Fetch(context.Background(), sampleID)
	var fetchErr *Error
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if fetchErr.Kind != KindNotFound || fetchErr.Status != http.StatusNotFound {
		t.Fatalf("unexpected error %+v", fetchErr)
	}
	if !errors.Is(err, ErrNotFound) || errors.Is(err, ErrTransport) {
		t.Fatalf("errors.Is 分类错误: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("4xx 不应重试, hits=%d", hits.Load())
	}
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL, nil)
	data, err := f.Fetch(context.Background(), sampleID)
	if err != nil {
		t.Fatalf("重试后应成功: %v", err)
	}
	if string(data) != "ok" || hits.Load() != 3 {
		t.Fatalf("unexpected result body=%q hits=%d", data, hits.Load())
	}
}

func TestFetchRetriesAreBounded(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL, func(o *Options) { o.MaxRetries = 1 })
	_, err := f.Fetch(context.Background(), sampleID)
	var fetchErr *Error
	if !errors.As(err, &fetchErr) || fetchErr.Status != http.StatusBadGateway {
		t.Fatalf("expected 502 error, got %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("应只重试一次, hits=%d", hits.Load())
	}
}

func TestFetchTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	f := newTestFetcher(t, base, nil)
	_, err := f.Fetch(context.Background(), sampleID)
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("连接失败应归类为 transport: %v", err)
	}
}

func TestFetchRejectsOversizedArtifact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	f := newTestFetcher(t, srv.URL, func(o *Options) { o.MaxArtifactSize = 16 })
	_, err := f.Fetch(context.Background(), sampleID)
	if !errors.Is(err, ErrTransport) || !errors.Is(err, errTooLarge) {
		t.Fatalf("超限制品应返回 too large: %v", err)
	}
}

func TestFetchHonoursCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := newTestFetcher(t, srv.URL, func(o *Options) { o.RequestsPerSecond = 5 })
	if _, err := f.Fetch(ctx, sampleID); !errors.Is(err, ErrTransport) {
		t.Fatalf("取消的 context 应返回 transport 错误: %v", err)
	}
}

func TestFlatContainerLayoutLowercases(t *testing.T) {
	f := newTestFetcher(t, "https://api.nuget.org/v3-flatcontainer", func(o *Options) { o.Layout = "flatcontainer" })
	got := f.URL(identity.Identity{Name: "Serilog", Version: "3.1.0-Beta"})
	want := "https://api.nuget.org/v3-flatcontainer/serilog/3.1.0-beta/serilog.3.1.0-beta.nupkg"
	if got != want {
		t.Fatalf("URL 不符合 flat container 布局: %s", got)
	}
}

func TestNewRejectsUnknownLayout(t *testing.T) {
	if _, err := New(Options{BaseURL: "https://repo.example.com", Layout: "maven"}); err == nil {
		t.Fatalf("未知布局应返回错误")
	}
	if _, err := New(Options{}); err == nil {
		t.Fatalf("缺少仓库地址应返回错误")
	}
}

func TestNewClientUsesConfigTimeout(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{
			RequestTimeout: config.Duration(45 * time.Second),
		},
	}

	client := NewClient(cfg)
	if client.Timeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", client.Timeout)
	}
	if NewClient(nil).Timeout != defaultRequestTimeout {
		t.Fatalf("nil 配置应使用默认超时")
	}
}
