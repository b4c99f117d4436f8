// Package fetch 负责按配置的 URL 布局从远端仓库下载制品字节。
// Fetcher 只做网络访问，从不写磁盘；落盘交给 cache.Store。
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/any-hub/pkg-restore/internal/config"
	"github.com/any-hub/pkg-restore/internal/identity"
	"github.com/any-hub/pkg-restore/internal/layout"
	"github.com/any-hub/pkg-restore/internal/version"
)

const (
	defaultMaxArtifactSize = 512 << 20
	defaultInitialBackoff  = time.Second
	drainLimit             = 64 << 10
)

var errTooLarge = errors.New("artifact too large")

// Options 描述 Fetcher 的全部依赖，零值字段使用默认值。
type Options struct {
	BaseURL           string
	Layout            string
	ArtifactExt       string
	Client            *http.Client
	MaxRetries        int
	InitialBackoff    time.Duration
	RequestsPerSecond float64
	MaxArtifactSize   int64
	Logger            *logrus.Logger
}

// Fetcher 通过共享 http.Client 拉取制品，可被多个 worker 并发调用。
type Fetcher struct {
	baseURL        string
	path           layout.PathFunc
	ext            string
	client         *http.Client
	maxRetries     int
	initialBackoff time.Duration
	maxSize        int64
	limiter        *rate.Limiter
	logger         *logrus.Logger
	userAgent      string
}

// New 校验布局并构造 Fetcher。
func New(opts Options) (*Fetcher, error) {
	key := opts.Layout
	if key == "" {
		key = layout.DefaultKey()
	}
	l, ok := layout.Resolve(key)
	if !ok {
		return nil, fmt.Errorf("unknown repository layout %q", key)
	}
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("repository url is required")
	}

	f := &Fetcher{
		baseURL:        base,
		path:           l.Path,
		ext:            opts.ArtifactExt,
		client:         opts.Client,
		maxRetries:     opts.MaxRetries,
		initialBackoff: opts.InitialBackoff,
		maxSize:        opts.MaxArtifactSize,
		logger:         opts.Logger,
		userAgent:      "pkg-restore/" + version.Version,
	}
	if f.ext == "" {
		f.ext = "nupkg"
	}
	if f.client == nil {
		f.client = NewClient(nil)
	}
	if f.maxRetries < 0 {
		f.maxRetries = 0
	}
	if f.initialBackoff <= 0 {
		f.initialBackoff = defaultInitialBackoff
	}
	if f.maxSize <= 0 {
		f.maxSize = defaultMaxArtifactSize
	}
	if f.logger == nil {
		f.logger = logrus.StandardLogger()
	}
	if opts.RequestsPerSecond > 0 {
		burst := int(math.Ceil(opts.RequestsPerSecond))
		f.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return f, nil
}

// NewFromConfig 使用全局配置和共享 client 构造 Fetcher。
func NewFromConfig(cfg *config.Config, client *http.Client, logger *logrus.Logger) (*Fetcher, error) {
	g := cfg.Global
	return New(Options{
		BaseURL:           g.RepositoryURL,
		Layout:            g.Layout,
		ArtifactExt:       g.ArtifactExt,
		Client:            client,
		MaxRetries:        g.MaxRetries,
		InitialBackoff:    g.InitialBackoff.DurationValue(),
		RequestsPerSecond: g.RequestsPerSecond,
		MaxArtifactSize:   g.MaxArtifactSize,
		Logger:            logger,
	})
}

// URL 返回 identity 对应的制品地址。
func (f *Fetcher) URL(id identity.Identity) string {
	return f.baseURL + "/" + f.path(id, f.ext)
}

// Fetch 下载制品并返回完整字节。5xx 按指数退避重试至多 MaxRetries 次，
// 4xx 与传输层错误立即返回。
func (f *Fetcher) Fetch(ctx context.Context, id identity.Identity) ([]byte, error) {
	target := f.URL(id)

	var body []byte
	operation := func() error {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(&Error{Kind: KindTransport, URL: target, Err: err})
			}
		}
		data, err := f.get(ctx, target)
		if err != nil {
			var fetchErr *Error
			if errors.As(err, &fetchErr) && fetchErr.retryable() {
				return err
			}
			return backoff.Permanent(err)
		}
		body = data
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(f.newBackOff(), uint64(f.maxRetries)), ctx)
	err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		f.logger.WithFields(logrus.Fields{
			"action":  "fetch_retry",
			"package": id.Name,
			"version": id.Version,
			"url":     target,
			"wait_ms": wait.Milliseconds(),
		}).Warn(err.Error())
	})
	if err != nil {
		var fetchErr *Error
		if errors.As(err, &fetchErr) {
			return nil, fetchErr
		}
		return nil, &Error{Kind: KindTransport, URL: target, Err: err}
	}
	return body, nil
}

func (f *Fetcher) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.initialBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (f *Fetcher) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &Error{Kind: KindTransport, URL: target, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransport, URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))
		return nil, &Error{Kind: KindNotFound, Status: resp.StatusCode, URL: target}
	}
	if resp.ContentLength > f.maxSize {
		return nil, &Error{Kind: KindTransport, URL: target, Err: fmt.Errorf("%w: %d bytes", errTooLarge, resp.ContentLength)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return nil, &Error{Kind: KindTransport, URL: target, Err: err}
	}
	if int64(len(data)) > f.maxSize {
		return nil, &Error{Kind: KindTransport, URL: target, Err: fmt.Errorf("%w: exceeds %d bytes", errTooLarge, f.maxSize)}
	}
	return data, nil
}
