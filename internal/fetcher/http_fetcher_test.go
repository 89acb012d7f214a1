package fetcher

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/pixcache/internal/config"
	"github.com/any-hub/pixcache/internal/engine"
)

func TestNewUpstreamClientUsesConfigTimeout(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{
			UpstreamTimeout: config.Duration(45 * time.Second),
		},
	}

	client := NewUpstreamClient(cfg)
	if client.Timeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", client.Timeout)
	}
}

func TestFetchReportsProgressAndHeaders(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 64*1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	f := New(server.Client(), Options{}, quietLogger())
	var reports []int
	header := http.Header{}
	header.Set("Authorization", "Bearer tok")

	data, err := f.Fetch(context.Background(), engine.FetchRequest{URL: server.URL, Header: header}, func(p int) {
		reports = append(reports, p)
	})
	if err != nil {
		t.Fatalf("Fetch 返回错误: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatalf("内容不一致: got %d bytes", len(data))
	}
	if len(reports) == 0 || reports[len(reports)-1] != 100 {
		t.Fatalf("读完后进度应达到 100: %v", reports)
	}
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, "ok")
	}))
	defer server.Close()

	f := New(server.Client(), Options{MaxRetries: 3, InitialBackoff: time.Millisecond}, quietLogger())
	var delays []time.Duration
	f.sleeper = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	data, err := f.Fetch(context.Background(), engine.FetchRequest{URL: server.URL}, nil)
	if err != nil {
		t.Fatalf("Fetch 返回错误: %v", err)
	}
	if string(data) != "ok" || hits.Load() != 3 {
		t.Fatalf("expected success on third attempt, hits=%d", hits.Load())
	}
	if len(delays) != 2 || delays[0] != time.Millisecond || delays[1] != 2*time.Millisecond {
		t.Fatalf("退避时间应指数增长: %v", delays)
	}
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f := New(server.Client(), Options{MaxRetries: 3, InitialBackoff: time.Millisecond}, quietLogger())
	_, err := f.Fetch(context.Background(), engine.FetchRequest{URL: server.URL}, nil)

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 StatusError, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("4xx 不应重试, hits=%d", hits.Load())
	}
}

func TestFetchHonoursCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	f := New(server.Client(), Options{MaxRetries: 3}, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	if _, err := f.Fetch(ctx, engine.FetchRequest{URL: server.URL}, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
