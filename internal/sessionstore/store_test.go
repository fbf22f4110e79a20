package sessionstore

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type storeFactory func(t *testing.T) Store

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"in-memory": func(t *testing.T) Store {
			return NewInMemoryStore(nil)
		},
		"redis": func(t *testing.T) Store {
			store, _ := newMiniredisStore(t)
			return store
		},
		"sqlite": func(t *testing.T) Store {
			return newSQLiteStore(t)
		},
	}
}

func newMiniredisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreWithClient(client, time.Hour, nil)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessions.db")
	store, err := NewSQLiteStore(context.Background(), "sqlite://"+path, time.Hour, nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreContract(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			t.Run("GetMissing", func(t *testing.T) {
				store := factory(t)
				_, err := store.Get(context.Background(), "nope", "acme")
				if !errors.Is(err, ErrNotFound) {
					t.Fatalf("Get() error = %v, want ErrNotFound", err)
				}
			})
			t.Run("SaveThenGet", func(t *testing.T) { testSaveThenGet(t, factory(t)) })
			t.Run("SaveEmptyHistory", func(t *testing.T) { testSaveEmptyHistory(t, factory(t)) })
			t.Run("SaveOverwrites", func(t *testing.T) { testSaveOverwrites(t, factory(t)) })
			t.Run("TenantIsolation", func(t *testing.T) { testTenantIsolation(t, factory(t)) })
			t.Run("DeleteIsIdempotent", func(t *testing.T) { testDelete(t, factory(t)) })
			t.Run("ListScopedToTenant", func(t *testing.T) { testList(t, factory(t)) })
			t.Run("ExtendTTL", func(t *testing.T) { testExtendTTL(t, factory(t)) })
		})
	}
}

func testSaveThenGet(t *testing.T, store Store) {
	ctx := context.Background()
	ts := Timestamp(time.Unix(1700000000, 0))
	in := []Message{
		{Role: "user", Content: "hello", Timestamp: ts},
		{Role: "assistant", Content: "hi there"},
	}
	if err := store.Save(ctx, "s1", "acme", in, 0); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := store.Get(ctx, "s1", "acme")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(Get()) = %d, want 2", len(got))
	}
	if got[0].Role != "user" || got[0].Content != "hello" {
		t.Fatalf("got[0] = %+v, want user/hello", got[0])
	}
	if got[0].Timestamp == nil || *got[0].Timestamp != 1700000000 {
		t.Fatalf("got[0].Timestamp = %v, want 1700000000", got[0].Timestamp)
	}
	if got[1].Timestamp != nil {
		t.Fatalf("got[1].Timestamp = %v, want nil", *got[1].Timestamp)
	}
}

func testSaveEmptyHistory(t *testing.T, store Store) {
	ctx := context.Background()
	if err := store.Save(ctx, "empty", "acme", nil, 0); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := store.Get(ctx, "empty", "acme")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("Get() = %#v, want empty non-nil slice", got)
	}
}

func testSaveOverwrites(t *testing.T, store Store) {
	ctx := context.Background()
	if err := store.Save(ctx, "s1", "acme", []Message{{Role: "user", Content: "a"}, {Role: "user", Content: "b"}}, 0); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Save(ctx, "s1", "acme", []Message{{Role: "user", Content: "c"}}, 0); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := store.Get(ctx, "s1", "acme")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(got) != 1 || got[0].Content != "c" {
		t.Fatalf("Get() = %+v, want single message c", got)
	}
}

func testTenantIsolation(t *testing.T, store Store) {
	ctx := context.Background()
	if err := store.Save(ctx, "shared", "acme", []Message{{Role: "user", Content: "acme secret"}}, 0); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := store.Get(ctx, "shared", "globex"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(globex) error = %v, want ErrNotFound", err)
	}
	if err := store.Save(ctx, "shared", "globex", []Message{{Role: "user", Content: "globex data"}}, 0); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := store.Get(ctx, "shared", "acme")
	if err != nil {
		t.Fatalf("Get(acme) error = %v", err)
	}
	if len(got) != 1 || got[0].Content != "acme secret" {
		t.Fatalf("Get(acme) = %+v, want acme history untouched", got)
	}
}

func testDelete(t *testing.T, store Store) {
	ctx := context.Background()
	if err := store.Save(ctx, "s1", "acme", []Message{{Role: "user", Content: "x"}}, 0); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Delete(ctx, "s1", "acme"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(ctx, "s1", "acme"); err != nil {
		t.Fatalf("second Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, "s1", "acme"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after Delete error = %v, want ErrNotFound", err)
	}
}

func testList(t *testing.T, store Store) {
	ctx := context.Background()
	for _, rec := range []struct{ tenant, session string }{
		{"acme", "s1"},
		{"acme", "s2"},
		{"acme2", "s3"},
		{"globex", "s4"},
	} {
		if err := store.Save(ctx, rec.session, rec.tenant, []Message{{Role: "user", Content: "x"}}, 0); err != nil {
			t.Fatalf("Save(%s/%s) error = %v", rec.tenant, rec.session, err)
		}
	}
	got, err := store.List(ctx, "acme")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	slices.Sort(got)
	if !slices.Equal(got, []string{"s1", "s2"}) {
		t.Fatalf("List(acme) = %v, want [s1 s2]", got)
	}

	none, err := store.List(ctx, "nobody")
	if err != nil {
		t.Fatalf("List(nobody) error = %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Fatalf("List(nobody) = %#v, want empty non-nil slice", none)
	}
}

func testExtendTTL(t *testing.T, store Store) {
	ctx := context.Background()
	ok, err := store.ExtendTTL(ctx, "missing", "acme", time.Minute)
	if err != nil {
		t.Fatalf("ExtendTTL(missing) error = %v", err)
	}
	if ok {
		t.Fatalf("ExtendTTL(missing) = true, want false")
	}
	if err := store.Save(ctx, "s1", "acme", []Message{{Role: "user", Content: "x"}}, time.Minute); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	ok, err = store.ExtendTTL(ctx, "s1", "acme", 2*time.Hour)
	if err != nil {
		t.Fatalf("ExtendTTL() error = %v", err)
	}
	if !ok {
		t.Fatalf("ExtendTTL() = false, want true")
	}
}

func TestRedisStoreExpiresRecords(t *testing.T) {
	store, mr := newMiniredisStore(t)
	ctx := context.Background()
	if err := store.Save(ctx, "s1", "acme", []Message{{Role: "user", Content: "x"}}, time.Minute); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if ttl := mr.TTL("session:acme:s1"); ttl != time.Minute {
		t.Fatalf("TTL = %v, want 1m", ttl)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := store.Get(ctx, "s1", "acme"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after expiry error = %v, want ErrNotFound", err)
	}
}

func TestRedisStoreUsesDefaultTTL(t *testing.T) {
	store, mr := newMiniredisStore(t)
	if err := store.Save(context.Background(), "s1", "acme", nil, 0); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if ttl := mr.TTL("session:acme:s1"); ttl != time.Hour {
		t.Fatalf("TTL = %v, want default 1h", ttl)
	}
}

func TestRedisStoreListKeepsSessionsWithSeparators(t *testing.T) {
	store, _ := newMiniredisStore(t)
	ctx := context.Background()
	if err := store.Save(ctx, "a:b:c", "acme", nil, 0); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := store.List(ctx, "acme")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if !slices.Equal(got, []string{"a:b:c"}) {
		t.Fatalf("List() = %v, want [a:b:c]", got)
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	store, mr := newMiniredisStore(t)
	mr.Close()
	_, err := store.Get(context.Background(), "s1", "acme")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Get() error = %v, want ErrUnavailable", err)
	}
}

func TestEscapeGlob(t *testing.T) {
	if got := escapeGlob(`a*b?[c]\`); got != `a\*b\?\[c\]\\` {
		t.Fatalf("escapeGlob() = %q", got)
	}
}

func TestSQLiteStoreExpiresAndPurges(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	store.now = func() time.Time { return now }

	if err := store.Save(ctx, "s1", "acme", []Message{{Role: "user", Content: "x"}}, time.Minute); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := store.Get(ctx, "s1", "acme"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after expiry error = %v, want ErrNotFound", err)
	}
	ok, err := store.ExtendTTL(ctx, "s1", "acme", time.Hour)
	if err != nil {
		t.Fatalf("ExtendTTL() error = %v", err)
	}
	if ok {
		t.Fatalf("ExtendTTL() on expired record = true, want false")
	}
	n, err := store.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("PurgeExpired() = %d, want 1", n)
	}
}

func TestNewStoreSelectsBackend(t *testing.T) {
	ctx := context.Background()

	store, err := NewStore(ctx, Config{}, nil)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if store.Backend() != "in-memory" {
		t.Fatalf("Backend() = %q, want in-memory", store.Backend())
	}

	store, err = NewStore(ctx, Config{DatabaseURL: "sqlite://" + filepath.Join(t.TempDir(), "s.db")}, nil)
	if err != nil {
		t.Fatalf("NewStore(sqlite) error = %v", err)
	}
	defer store.Close()
	if store.Backend() != "sqlite" {
		t.Fatalf("Backend() = %q, want sqlite", store.Backend())
	}

	mr := miniredis.RunT(t)
	store, err = NewStore(ctx, Config{RedisURL: "redis://" + mr.Addr(), DatabaseURL: "postgres://ignored"}, nil)
	if err != nil {
		t.Fatalf("NewStore(redis) error = %v", err)
	}
	defer store.Close()
	if store.Backend() != "redis" {
		t.Fatalf("Backend() = %q, want redis", store.Backend())
	}
}

func TestNewStoreRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err := NewStore(context.Background(), Config{RedisURL: "redis://" + addr}, nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("NewStore() error = %v, want ErrUnavailable", err)
	}
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
}

func (o *recordingObserver) ObserveStoreOp(backend, op, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, backend+"/"+op+"/"+outcome)
}

func TestWithObserverReportsOutcomes(t *testing.T) {
	obs := &recordingObserver{}
	store := WithObserver(NewInMemoryStore(nil), obs)
	ctx := context.Background()

	_, _ = store.Get(ctx, "s1", "acme")
	_ = store.Save(ctx, "s1", "acme", nil, 0)
	_, _ = store.Get(ctx, "s1", "acme")

	want := []string{
		"in-memory/get/not_found",
		"in-memory/save/ok",
		"in-memory/get/ok",
	}
	if !slices.Equal(obs.calls, want) {
		t.Fatalf("calls = %v, want %v", obs.calls, want)
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	in := time.Unix(1700000000, 500_000_000).UTC()
	got := TimeOf(Timestamp(in))
	if diff := got.Sub(in); diff > time.Microsecond || diff < -time.Microsecond {
		t.Fatalf("TimeOf(Timestamp()) = %v, want %v", got, in)
	}
	if Timestamp(time.Time{}) != nil {
		t.Fatalf("Timestamp(zero) != nil")
	}
	if !TimeOf(nil).IsZero() {
		t.Fatalf("TimeOf(nil) not zero")
	}
}
