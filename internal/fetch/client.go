package fetch

import (
	"net"
	"net/http"
	"time"

	"github.com/any-hub/pkg-restore/internal/config"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

const defaultRequestTimeout = 100 * time.Second

// NewClient 返回所有 worker 共享的 http.Client，超时取自 RequestTimeout。
func NewClient(cfg *config.Config) *http.Client {
	timeout := defaultRequestTimeout
	if cfg != nil && cfg.Global.RequestTimeout.DurationValue() > 0 {
		timeout = cfg.Global.RequestTimeout.DurationValue()
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
	}
}
