package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFailsWithMissingPlaceholder(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("占位图文件不存在时应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
LogLevel = "info"
StoragePath = "./data"
EvictInterval = "boom"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadRejectsInvalidByteSize(t *testing.T) {
	path := writeTempConfig(t, `MaxCacheSize = "a lot"`)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 MaxCacheSize 应失败")
	}
}

func TestLoadResolvesPlaceholdersRelativeToConfig(t *testing.T) {
	cfg := `
StoragePath = "./data"

[Defaults]
LoadingPlaceholder = "loading.png"
ErrorPlaceholder = "error.png"
AuthToken = "secret"
`
	path := writeTempConfig(t, cfg)
	dir := filepath.Dir(path)
	if err := os.WriteFile(filepath.Join(dir, "loading.png"), []byte("loading"), 0o600); err != nil {
		t.Fatalf("写入占位图失败: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "error.png"), []byte("error"), 0o600); err != nil {
		t.Fatalf("写入占位图失败: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	loading, failed, err := loaded.Defaults.ReadPlaceholders()
	if err != nil {
		t.Fatalf("读取占位图失败: %v", err)
	}
	if !bytes.Equal(loading, []byte("loading")) || !bytes.Equal(failed, []byte("error")) {
		t.Fatalf("占位图内容错误: %q %q", loading, failed)
	}
	if loaded.Defaults.AuthMode() != "bearer" {
		t.Fatalf("配置 token 后应为 bearer")
	}
}
