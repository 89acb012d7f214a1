package routes

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/tunabay/go-infounit"

	"github.com/any-hub/pixcache/internal/cache"
	"github.com/any-hub/pixcache/internal/config"
	"github.com/any-hub/pixcache/internal/engine"
)

// RegisterDiagnosticsRoutes 暴露 /-/jobs 与 /-/cache 系列诊断/维护接口。
func RegisterDiagnosticsRoutes(app *fiber.App, registry *engine.Registry, maintenance *cache.Maintenance, maxBytes infounit.ByteCount) {
	if app == nil || registry == nil || maintenance == nil {
		return
	}

	app.Get("/-/jobs", func(c fiber.Ctx) error {
		jobs := registry.Snapshot()
		return c.JSON(fiber.Map{
			"count": len(jobs),
			"jobs":  jobs,
		})
	})

	app.Get("/-/cache", func(c fiber.Ctx) error {
		entries := maintenance.Entries(context.Background())
		return c.JSON(encodeEntries(entries, maxBytes))
	})

	app.Delete("/-/cache", func(c fiber.Ctx) error {
		rawURL := strings.TrimSpace(c.Query("url"))
		if rawURL == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "url_required"})
		}
		maintenance.ClearOne(context.Background(), rawURL)
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Post("/-/cache/evict", func(c fiber.Ctx) error {
		limit := maxBytes
		if raw := strings.TrimSpace(c.Query("max")); raw != "" {
			parsed, err := config.ParseByteSize(raw)
			if err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_max", "message": err.Error()})
			}
			limit = parsed.Bytes()
		}
		result := maintenance.ClearOverLimit(context.Background(), limit)
		return c.JSON(evictPayload{
			Limit:        humanBytes(limit),
			Kept:         result.Kept,
			KeptBytes:    uint64(result.KeptBytes),
			Removed:      result.Removed,
			RemovedBytes: uint64(result.RemovedBytes),
			Failed:       result.Failed,
		})
	})

	app.Delete("/-/cache/all", func(c fiber.Ctx) error {
		maintenance.ClearAll(context.Background())
		return c.SendStatus(fiber.StatusNoContent)
	})
}

type entryPayload struct {
	Key       string    `json:"key"`
	SizeBytes uint64    `json:"size_bytes"`
	Size      string    `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

type cachePayload struct {
	Count      int            `json:"count"`
	TotalBytes uint64         `json:"total_bytes"`
	Total      string         `json:"total"`
	Limit      string         `json:"limit"`
	Entries    []entryPayload `json:"entries"`
}

type evictPayload struct {
	Limit        string `json:"limit"`
	Kept         int    `json:"kept"`
	KeptBytes    uint64 `json:"kept_bytes"`
	Removed      int    `json:"removed"`
	RemovedBytes uint64 `json:"removed_bytes"`
	Failed       int    `json:"failed"`
}

// encodeEntries 按创建时间从新到旧输出，与淘汰时的遍历顺序一致。
func encodeEntries(entries []cache.Entry, maxBytes infounit.ByteCount) cachePayload {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].Key > entries[j].Key
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})

	var total infounit.ByteCount
	items := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		total += entry.SizeBytes
		items = append(items, entryPayload{
			Key:       entry.Key,
			SizeBytes: uint64(entry.SizeBytes),
			Size:      humanBytes(entry.SizeBytes),
			CreatedAt: entry.CreatedAt,
		})
	}
	return cachePayload{
		Count:      len(items),
		TotalBytes: uint64(total),
		Total:      humanBytes(total),
		Limit:      humanBytes(maxBytes),
		Entries:    items,
	}
}

func humanBytes(n infounit.ByteCount) string {
	return fmt.Sprintf("%.1S", n)
}
