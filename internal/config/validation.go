package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/pkg-restore/internal/cache"
	"github.com/any-hub/pkg-restore/internal/layout"
)

const maxWorkers = 256

// Validate 针对语义级别做进一步校验，防止非法配置启动还原。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return newFieldError(globalField("LogLevel"), "无法识别的日志级别")
	}
	if strings.TrimSpace(g.CachePath) == "" {
		return newFieldError(globalField("CachePath"), "不能为空")
	}
	if err := validateRepository(g.RepositoryURL); err != nil {
		return fmt.Errorf("%s: %w", globalField("RepositoryURL"), err)
	}
	if _, ok := layout.Resolve(g.Layout); !ok {
		return newFieldError(globalField("Layout"), "仅支持 "+strings.Join(layout.Keys(), "|"))
	}
	if !cache.SupportsExtension(g.ArtifactExt) {
		return newFieldError(globalField("ArtifactExt"), "不支持的制品格式: "+g.ArtifactExt)
	}
	if g.Workers <= 0 || g.Workers > maxWorkers {
		return newFieldError(globalField("Workers"), fmt.Sprintf("必须在 1-%d", maxWorkers))
	}
	switch g.Mode() {
	case GroupModeShared, GroupModeGrouped, GroupModeProcess:
	default:
		return newFieldError(globalField("GroupMode"), "仅支持 shared|grouped|process")
	}
	if g.MaxRetries < 0 || g.MaxRetries > 10 {
		return newFieldError(globalField("MaxRetries"), "必须在 0-10")
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError(globalField("InitialBackoff"), "必须大于 0")
	}
	if g.RequestTimeout.DurationValue() <= 0 {
		return newFieldError(globalField("RequestTimeout"), "必须大于 0")
	}
	if g.RequestsPerSecond < 0 {
		return newFieldError(globalField("RequestsPerSecond"), "不能为负数")
	}
	if g.MaxArtifactSize <= 0 {
		return newFieldError(globalField("MaxArtifactSize"), "必须大于 0")
	}
	if g.MaxExtractedSize < g.MaxArtifactSize {
		return newFieldError(globalField("MaxExtractedSize"), "不能小于 MaxArtifactSize")
	}
	if g.StatusListen != "" {
		if _, _, err := net.SplitHostPort(g.StatusListen); err != nil {
			return newFieldError(globalField("StatusListen"), "必须是 host:port 形式")
		}
	}
	return nil
}

func validateRepository(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("不能为空")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("无效 URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("仅支持 http/https")
	}
	if parsed.Host == "" {
		return errors.New("缺少主机名")
	}
	return nil
}
