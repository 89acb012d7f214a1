package version

import (
	"strings"
	"testing"
)

func TestFullIncludesCommit(t *testing.T) {
	Version, Commit = "1.2.3", "abc123"
	t.Cleanup(func() { Version, Commit = "0.1.0", "dev" })

	if got := Full(); got != "pixcache 1.2.3 (abc123)" {
		t.Fatalf("unexpected version string: %s", got)
	}
	if !strings.HasPrefix(UserAgent(), "pixcache/1.2.3") {
		t.Fatalf("unexpected user agent: %s", UserAgent())
	}
}
