package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return newFieldError("Global.LogLevel", fmt.Sprintf("无法识别: %s", g.LogLevel))
	}
	if strings.TrimSpace(g.StoragePath) == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.MaxCacheSize == 0 {
		return newFieldError("Global.MaxCacheSize", "必须大于 0")
	}
	if g.EvictInterval.DurationValue() < 0 {
		return newFieldError("Global.EvictInterval", "不能为负数")
	}
	if g.MaxRetries < 0 {
		return newFieldError("Global.MaxRetries", "不能为负数")
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("Global.InitialBackoff", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.RequestTimeout.DurationValue() <= 0 {
		return newFieldError("Global.RequestTimeout", "必须大于 0")
	}

	d := c.Defaults
	if d.FadeDuration.DurationValue() < 0 {
		return newFieldError(defaultsField("FadeDuration"), "不能为负数")
	}
	if d.TargetAlpha < 0 || d.TargetAlpha > 1 {
		return newFieldError(defaultsField("TargetAlpha"), "必须在 0-1 之间")
	}
	return nil
}

// checkPlaceholders 确认配置的占位图文件存在且不是目录。
func (d DefaultsConfig) checkPlaceholders() error {
	for field, path := range map[string]string{
		"LoadingPlaceholder": d.LoadingPlaceholder,
		"ErrorPlaceholder":   d.ErrorPlaceholder,
	} {
		if path == "" {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			return newFieldError(defaultsField(field), fmt.Sprintf("无法读取: %v", err))
		}
		if info.IsDir() {
			return newFieldError(defaultsField(field), "不能是目录")
		}
	}
	return nil
}
