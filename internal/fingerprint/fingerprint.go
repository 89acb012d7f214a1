// Package fingerprint derives the cache key used for both on-disk entries and
// in-flight download jobs. The algorithm is part of the on-disk format:
// changing it orphans every entry already written under StoragePath.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrEmptyURL 表示 URL 为空。
	ErrEmptyURL = errors.New("url is empty")
	// ErrInvalidURL 表示 URL 无法解析或不是带 host 的绝对地址。
	ErrInvalidURL = errors.New("url is not correct")
)

// Size 是指纹字符串的固定长度（MD5 的大写十六进制）。
const Size = md5.Size * 2

// Compute 对 URL 做确定性哈希，同一输入在任何进程中都得到相同的 key。
func Compute(url string) string {
	sum := md5.Sum([]byte(url))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// Normalize 去掉首尾空白并校验 raw 是带 host 的绝对 URL，返回的仍是调用方给出的写法，
// 不做转义或大小写改写，指纹总是基于该字符串计算。
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrEmptyURL
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return "", fmt.Errorf("%w: absolute url with host required", ErrInvalidURL)
	}
	return raw, nil
}

// ForURL 先校验并去掉首尾空白再计算指纹；校验失败时退回对原始字符串取指纹。
func ForURL(raw string) string {
	if normalized, err := Normalize(raw); err == nil {
		return Compute(normalized)
	}
	return Compute(raw)
}

// Valid 判断 name 是否形如 Compute 的输出，用于扫描缓存目录时过滤无关文件。
func Valid(name string) bool {
	if len(name) != Size {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c < '0' || c > '9') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
