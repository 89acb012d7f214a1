// Package cache defines the disk-backed blob store that keeps downloaded
// resources under StoragePath/<fingerprint>. Writes go through a temp file and
// rename so readers never observe partial payloads; the file modification time
// records when the entry was (re)written and drives the size-bounded eviction
// pass. Per-key operations serialize on a per-fingerprint lock, while Evict and
// ClearAll take exclusive ownership of the whole directory. A Janitor runs the
// eviction pass periodically, and Maintenance exposes the best-effort clear
// operations used by the HTTP surface.
package cache
