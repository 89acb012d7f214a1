package engine

import (
	"errors"
	"fmt"
)

// ErrConfiguration 标记启动前的配置错误（缺少 URL/目标或 URL 非法）。
var ErrConfiguration = errors.New("configuration error")

// ErrEngineClosed 表示引擎已关闭，不再接受新请求。
var ErrEngineClosed = errors.New("engine closed")

// ConfigurationError 提供字段与原因，Start 同步返回，不会创建任何 Job。
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Unwrap 使 errors.Is(err, ErrConfiguration) 成立。
func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// TransportError 表示回源失败。
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("error while downloading %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// PersistenceError 表示下载成功后写入或读回缓存失败。
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("cache %s failed for %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// DecodeError 表示缓存字节无法解码为图像。
type DecodeError struct {
	Key string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("loading image %s failed: %v", e.Key, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func configError(field, reason string) error {
	return &ConfigurationError{Field: field, Reason: reason}
}
