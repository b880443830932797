package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func backends(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": newTestSQLiteStore(t),
	}
}

func TestLogIsBounded(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 12; i++ {
				if err := s.AppendLog(ctx, []byte(fmt.Sprintf("e%d", i)), 5); err != nil {
					t.Fatalf("AppendLog failed: %v", err)
				}
			}

			entries, err := s.ReadLog(ctx)
			if err != nil {
				t.Fatalf("ReadLog failed: %v", err)
			}
			if len(entries) != 5 {
				t.Fatalf("got %d entries, want 5", len(entries))
			}
			for i, e := range entries {
				if want := fmt.Sprintf("e%d", i+7); string(e) != want {
					t.Errorf("entry %d = %s, want %s", i, e, want)
				}
			}

			if err := s.ClearLog(ctx); err != nil {
				t.Fatalf("ClearLog failed: %v", err)
			}
			entries, _ = s.ReadLog(ctx)
			if len(entries) != 0 {
				t.Errorf("log not cleared: %d entries", len(entries))
			}
		})
	}
}

func TestGetSet(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get(missing) err = %v, want ErrNotFound", err)
			}

			if err := s.Set(ctx, "error_metrics", []byte(`{"a":1}`)); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			if err := s.Set(ctx, "error_metrics", []byte(`{"a":2}`)); err != nil {
				t.Fatalf("Set (overwrite) failed: %v", err)
			}
			got, err := s.Get(ctx, "error_metrics")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if string(got) != `{"a":2}` {
				t.Errorf("Get = %s", got)
			}
		})
	}
}

func TestClearCacheKeepsRecords(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_ = s.Set(ctx, "error_metrics", []byte("keep"))
			_ = s.Set(ctx, CacheKey("transcript", "abc"), []byte("drop"))
			_ = s.Set(ctx, CacheKey("transcript", "def"), []byte("drop"))

			if err := s.ClearCache(ctx); err != nil {
				t.Fatalf("ClearCache failed: %v", err)
			}
			if _, err := s.Get(ctx, CacheKey("transcript", "abc")); !errors.Is(err, ErrNotFound) {
				t.Errorf("cache entry survived: %v", err)
			}
			if v, err := s.Get(ctx, "error_metrics"); err != nil || string(v) != "keep" {
				t.Errorf("record lost: %q, %v", v, err)
			}
		})
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(SQLiteConfig{Path: path})
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	_ = s.AppendLog(ctx, []byte("first"), 100)
	_ = s.Set(ctx, "k", []byte("v"))
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s, err = NewSQLiteStore(SQLiteConfig{Path: path})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	entries, _ := s.ReadLog(ctx)
	if len(entries) != 1 || string(entries[0]) != "first" {
		t.Errorf("entries = %q", entries)
	}
	if v, _ := s.Get(ctx, "k"); string(v) != "v" {
		t.Errorf("Get(k) = %q", v)
	}
}

func TestSQLiteRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(SQLiteConfig{}); err == nil {
		t.Error("expected an error for an empty path")
	}
}

func TestRedisKeys(t *testing.T) {
	s := &RedisStore{prefix: "voice:"}
	if got := s.logKey(); got != "voice:error_log" {
		t.Errorf("logKey = %s", got)
	}
	if got := s.recordKey(CacheKey("transcript", "abc")); got != "voice:kv:cache:transcript:abc" {
		t.Errorf("recordKey = %s", got)
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	v := []byte("abc")
	_ = s.Set(ctx, "k", v)
	v[0] = 'x'
	got, _ := s.Get(ctx, "k")
	if string(got) != "abc" {
		t.Errorf("store aliased caller slice: %s", got)
	}
}
