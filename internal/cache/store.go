package cache

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/tunabay/go-infounit"
)

// Store 负责管理磁盘缓存的读写。磁盘布局遵循：
//
//	<StoragePath>/<fingerprint>    # 下载得到的原始字节
//
// 每个条目仅由正文文件组成，文件的 ModTime/Size 由文件系统提供，
// ModTime 即条目的创建时间（覆盖写会刷新它）。
type Store interface {
	// Has 报告 key 对应的条目是否存在。
	Has(ctx context.Context, key string) bool

	// Read 返回条目的全部字节。若不存在则返回 ErrNotFound。
	Read(ctx context.Context, key string) ([]byte, error)

	// Write 覆盖写入条目并把创建时间刷新为当前时间。实现需通过临时文件 + rename
	// 保证写入原子性，并在失败时清理临时文件。
	Write(ctx context.Context, key string, body io.Reader) (*Entry, error)

	// Delete 删除条目，条目不存在时不报错。
	Delete(ctx context.Context, key string) error

	// Entries 列出当前所有条目，顺序不作保证。
	Entries(ctx context.Context) ([]Entry, error)

	// Evict 按“最新优先前缀”策略把总大小压到 maxBytes 以下，执行期间独占整个目录。
	Evict(ctx context.Context, maxBytes infounit.ByteCount) (EvictResult, error)

	// ClearAll 删除所有条目，执行期间独占整个目录。
	ClearAll(ctx context.Context) error
}

// Entry 描述一个缓存条目，包含绝对文件路径及文件信息。
type Entry struct {
	Key       string             `json:"key"`
	FilePath  string             `json:"file_path"`
	SizeBytes infounit.ByteCount `json:"size_bytes"`
	CreatedAt time.Time          `json:"created_at"`
}

// EvictResult 汇总一次淘汰的结果，便于日志与诊断接口输出。
type EvictResult struct {
	Kept         int
	KeptBytes    infounit.ByteCount
	Removed      int
	RemovedBytes infounit.ByteCount
	Failed       int
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

// ErrInvalidKey 表示 key 不是合法指纹，拒绝落盘以免越出缓存目录。
var ErrInvalidKey = errors.New("invalid cache key")
