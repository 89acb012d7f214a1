package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tunabay/go-infounit"

	"github.com/any-hub/pixcache/internal/fingerprint"
)

// NewStore 以 basePath 为根目录构建磁盘缓存，整个进程复用一份实例。
func NewStore(basePath string, logger *logrus.Logger) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &fileStore{
		basePath: abs,
		logger:   logger,
		now:      time.Now,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一 key 并发写入；dirMu 的写锁留给需要
// 独占整个目录的 Evict/ClearAll，单 key 操作只持有读锁。
type fileStore struct {
	basePath string
	logger   *logrus.Logger
	now      func() time.Time

	dirMu sync.RWMutex

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) Has(ctx context.Context, key string) bool {
	if ctx.Err() != nil {
		return false
	}
	filePath, err := s.entryPath(key)
	if err != nil {
		return false
	}

	s.dirMu.RLock()
	defer s.dirMu.RUnlock()

	info, err := os.Stat(filePath)
	return err == nil && !info.IsDir()
}

func (s *fileStore) Read(ctx context.Context, key string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	filePath, err := s.entryPath(key)
	if err != nil {
		return nil, err
	}

	s.dirMu.RLock()
	defer s.dirMu.RUnlock()

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *fileStore) Write(ctx context.Context, key string, body io.Reader) (*Entry, error) {
	filePath, err := s.entryPath(key)
	if err != nil {
		return nil, err
	}

	s.dirMu.RLock()
	defer s.dirMu.RUnlock()

	unlock := s.lockEntry(key)
	defer unlock()

	tempFile, err := os.CreateTemp(s.basePath, ".cache-*")
	if err != nil {
		return nil, err
	}
	tempName := tempFile.Name()

	written, err := copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return nil, err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return nil, err
	}

	createdAt := s.now().UTC()
	if err := os.Chtimes(filePath, createdAt, createdAt); err != nil {
		return nil, err
	}

	return &Entry{
		Key:       key,
		FilePath:  filePath,
		SizeBytes: infounit.ByteCount(written),
		CreatedAt: createdAt,
	}, nil
}

func (s *fileStore) Delete(ctx context.Context, key string) error {
	filePath, err := s.entryPath(key)
	if err != nil {
		return err
	}

	s.dirMu.RLock()
	defer s.dirMu.RUnlock()

	unlock := s.lockEntry(key)
	defer unlock()

	return removeIfExists(filePath)
}

func (s *fileStore) Entries(ctx context.Context) ([]Entry, error) {
	s.dirMu.RLock()
	defer s.dirMu.RUnlock()
	return s.listEntries(ctx)
}

func (s *fileStore) Evict(ctx context.Context, maxBytes infounit.ByteCount) (EvictResult, error) {
	s.dirMu.Lock()
	defer s.dirMu.Unlock()

	entries, err := s.listEntries(ctx)
	if err != nil {
		return EvictResult{}, err
	}

	plan := planEviction(entries, maxBytes)
	result := EvictResult{Kept: len(plan.keep)}
	for _, entry := range plan.keep {
		result.KeptBytes += entry.SizeBytes
	}
	for _, entry := range plan.remove {
		if err := removeIfExists(entry.FilePath); err != nil {
			result.Failed++
			s.logger.WithError(err).WithFields(logrus.Fields{
				"action": "cache_evict",
				"key":    entry.Key,
			}).Warn("cache_evict_failed")
			continue
		}
		result.Removed++
		result.RemovedBytes += entry.SizeBytes
	}
	return result, nil
}

func (s *fileStore) ClearAll(ctx context.Context) error {
	s.dirMu.Lock()
	defer s.dirMu.Unlock()

	entries, err := s.listEntries(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, entry := range entries {
		if err := removeIfExists(entry.FilePath); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", entry.Key, err))
		}
	}
	return errors.Join(errs...)
}

// listEntries 扫描缓存目录，跳过临时文件与非指纹命名的文件。调用方需持有 dirMu。
func (s *fileStore) listEntries(ctx context.Context) ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.basePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, d := range dirEntries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if d.IsDir() || !fingerprint.Valid(d.Name()) {
			continue
		}
		info, err := d.Info()
		if err != nil {
			// 扫描期间被并发删除
			continue
		}
		entries = append(entries, Entry{
			Key:       d.Name(),
			FilePath:  filepath.Join(s.basePath, d.Name()),
			SizeBytes: infounit.ByteCount(info.Size()),
			CreatedAt: info.ModTime().UTC(),
		})
	}
	return entries, nil
}

func (s *fileStore) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func (s *fileStore) entryPath(key string) (string, error) {
	if !fingerprint.Valid(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.basePath, key), nil
}

func removeIfExists(filePath string) error {
	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
