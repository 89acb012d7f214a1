package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tunabay/go-infounit"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}
	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}
	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// ByteSize 是缓存容量配置，接受纯字节数或带单位的写法（"50MB"、"1.5GiB"）。
type ByteSize infounit.ByteCount

var byteSizePattern = regexp.MustCompile(`(?i)^\s*(\d+(?:\.\d+)?)\s*([a-z]*)\s*$`)

var byteSizeUnits = map[string]infounit.ByteCount{
	"":    infounit.Byte,
	"b":   infounit.Byte,
	"k":   infounit.Kilobyte,
	"kb":  infounit.Kilobyte,
	"m":   infounit.Megabyte,
	"mb":  infounit.Megabyte,
	"g":   infounit.Gigabyte,
	"gb":  infounit.Gigabyte,
	"ki":  infounit.Kibibyte,
	"kib": infounit.Kibibyte,
	"mi":  infounit.Mebibyte,
	"mib": infounit.Mebibyte,
	"gi":  infounit.Gibibyte,
	"gib": infounit.Gibibyte,
}

// ParseByteSize 解析 "50MB"、"512KiB"、"1048576" 等写法。
func ParseByteSize(raw string) (ByteSize, error) {
	matches := byteSizePattern.FindStringSubmatch(raw)
	if matches == nil {
		return 0, fmt.Errorf("invalid byte size value: %q", raw)
	}
	unit, ok := byteSizeUnits[strings.ToLower(matches[2])]
	if !ok {
		return 0, fmt.Errorf("unknown byte size unit: %q", matches[2])
	}
	if strings.Contains(matches[1], ".") {
		num, err := strconv.ParseFloat(matches[1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid byte size value: %q", raw)
		}
		return ByteSize(num * float64(unit)), nil
	}
	num, err := strconv.ParseUint(matches[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size value: %q", raw)
	}
	return ByteSize(infounit.ByteCount(num) * unit), nil
}

// UnmarshalText 使 ByteSize 可以直接出现在 mapstructure 解码的结构体中。
func (b *ByteSize) UnmarshalText(text []byte) error {
	size, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = size
	return nil
}

// Bytes 返回 infounit.ByteCount，供缓存层直接使用。
func (b ByteSize) Bytes() infounit.ByteCount {
	return infounit.ByteCount(b)
}

// String 以 "50.0 MB" 的形式输出，便于日志阅读。
func (b ByteSize) String() string {
	return fmt.Sprintf("%.1S", infounit.ByteCount(b))
}

// GlobalConfig 描述进程级运行参数：监听端口、日志、缓存目录与回源策略。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	MaxCacheSize    ByteSize `mapstructure:"MaxCacheSize"`
	EvictInterval   Duration `mapstructure:"EvictInterval"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	MaxRetries      int      `mapstructure:"MaxRetries"`
	InitialBackoff  Duration `mapstructure:"InitialBackoff"`
	RequestTimeout  Duration `mapstructure:"RequestTimeout"`
}

// DefaultsConfig 是每个图片请求的默认配置，请求可逐项覆盖。
type DefaultsConfig struct {
	Cached             bool     `mapstructure:"Cached"`
	FadeDuration       Duration `mapstructure:"FadeDuration"`
	TargetAlpha        float64  `mapstructure:"TargetAlpha"`
	AuthToken          string   `mapstructure:"AuthToken"`
	LoadingPlaceholder string   `mapstructure:"LoadingPlaceholder"`
	ErrorPlaceholder   string   `mapstructure:"ErrorPlaceholder"`
	EnableLog          bool     `mapstructure:"EnableLog"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global   GlobalConfig   `mapstructure:",squash"`
	Defaults DefaultsConfig `mapstructure:"Defaults"`
}

// AuthMode 输出 `bearer` 或 `anonymous`，供启动日志使用，避免打印 token 本身。
func (d DefaultsConfig) AuthMode() string {
	if strings.TrimSpace(d.AuthToken) != "" {
		return "bearer"
	}
	return "anonymous"
}
