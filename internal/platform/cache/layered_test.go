package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// recordingStore is a Cache that counts calls and can inject layer faults.
type recordingStore struct {
	mu      sync.Mutex
	data    map[string]interface{}
	gets    int
	sets    int
	deletes int
	getErr  error
	setErr  error
	closed  bool
}

func newRecordingStore() *recordingStore {
	return &recordingStore{data: make(map[string]interface{})}
}

func (s *recordingStore) Get(_ context.Context, key string) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.getErr != nil {
		return nil, s.getErr
	}
	val, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return val, nil
}

func (s *recordingStore) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	if s.setErr != nil {
		return s.setErr
	}
	s.data[key] = value
	return nil
}

func (s *recordingStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	delete(s.data, key)
	return nil
}

func (s *recordingStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingStore) getCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

const metaKey = "token:meta:0x0E09FaBB73Bd3Ade0a17ECC321fD13a19e81cE82"

func TestMemoryCache_SetGet(t *testing.T) {
	mem := NewMemoryCache(8)
	defer mem.Close()

	ctx := context.Background()
	if err := mem.Set(ctx, metaKey, `{"symbol":"CAKE","decimals":18}`, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	val, err := mem.Get(ctx, metaKey)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if val != `{"symbol":"CAKE","decimals":18}` {
		t.Errorf("Expected stored metadata back, got %v", val)
	}

	if _, err := mem.Get(ctx, "token:meta:0xmissing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for absent key, got %v", err)
	}
}

func TestMemoryCache_Expiry(t *testing.T) {
	mem := NewMemoryCache(8)
	defer mem.Close()

	ctx := context.Background()
	if err := mem.Set(ctx, metaKey, "v", 10*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	time.Sleep(25 * time.Millisecond)

	if _, err := mem.Get(ctx, metaKey); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after expiry, got %v", err)
	}
	if got := mem.Len(); got != 0 {
		t.Errorf("Expected expired read to evict, Len() = %d", got)
	}
}

func TestMemoryCache_LRUEviction(t *testing.T) {
	mem := NewMemoryCache(2)
	defer mem.Close()

	ctx := context.Background()
	for _, key := range []string{"a", "b"} {
		if err := mem.Set(ctx, key, key, time.Minute); err != nil {
			t.Fatalf("Set %s failed: %v", key, err)
		}
	}

	// Touch a so b becomes the eviction candidate
	if _, err := mem.Get(ctx, "a"); err != nil {
		t.Fatalf("Get a failed: %v", err)
	}
	if err := mem.Set(ctx, "c", "c", time.Minute); err != nil {
		t.Fatalf("Set c failed: %v", err)
	}

	if _, err := mem.Get(ctx, "b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected b evicted, got %v", err)
	}
	for _, key := range []string{"a", "c"} {
		if _, err := mem.Get(ctx, key); err != nil {
			t.Errorf("Expected %s to survive eviction, got %v", key, err)
		}
	}
}

func TestMemoryCache_UpdateExisting(t *testing.T) {
	mem := NewMemoryCache(4)
	defer mem.Close()

	ctx := context.Background()
	if err := mem.Set(ctx, metaKey, "old", time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := mem.Set(ctx, metaKey, "new", time.Minute); err != nil {
		t.Fatalf("Overwrite failed: %v", err)
	}

	val, err := mem.Get(ctx, metaKey)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if val != "new" {
		t.Errorf("Expected overwritten value, got %v", val)
	}
	if got := mem.Len(); got != 1 {
		t.Errorf("Expected overwrite not to grow the cache, Len() = %d", got)
	}
}

func TestMemoryCache_DeleteAbsentKey(t *testing.T) {
	mem := NewMemoryCache(4)
	defer mem.Close()

	if err := mem.Delete(context.Background(), "never-set"); err != nil {
		t.Errorf("Expected no error deleting absent key, got %v", err)
	}
}

func TestMemoryCache_DefaultCapacity(t *testing.T) {
	mem := NewMemoryCache(0)
	defer mem.Close()

	if mem.capacity != defaultMaxEntries {
		t.Errorf("Expected default capacity %d, got %d", defaultMaxEntries, mem.capacity)
	}
}

func TestMemoryCache_SweepDropsExpired(t *testing.T) {
	mem := NewMemoryCache(8)
	defer mem.Close()

	ctx := context.Background()
	if err := mem.Set(ctx, "short", "v", 10*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := mem.Set(ctx, "long", "v", time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	mem.sweep(time.Now().Add(time.Minute))

	if got := mem.Len(); got != 1 {
		t.Errorf("Expected sweep to keep only the long TTL entry, Len() = %d", got)
	}
	if _, err := mem.Get(ctx, "long"); err != nil {
		t.Errorf("Expected long TTL entry to survive sweep, got %v", err)
	}
}

func TestMemoryCache_CloseTwice(t *testing.T) {
	mem := NewMemoryCache(4)

	if err := mem.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Second close must not panic
	if err := mem.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
}

func TestLayeredCache_ReadsThroughAndBackfills(t *testing.T) {
	l1 := NewMemoryCache(8)
	l2 := newRecordingStore()
	l2.data[metaKey] = "seeded"

	lc := NewLayeredCache(l1, l2)
	defer lc.Close()

	ctx := context.Background()
	val, err := lc.Get(ctx, metaKey)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if val != "seeded" {
		t.Errorf("Expected L2 value, got %v", val)
	}

	// Backfilled into L1, so the second read never reaches L2
	if _, err := lc.Get(ctx, metaKey); err != nil {
		t.Fatalf("Second get failed: %v", err)
	}
	if got := l2.getCount(); got != 1 {
		t.Errorf("Expected exactly 1 L2 read, got %d", got)
	}
}

func TestLayeredCache_L1TTLCap(t *testing.T) {
	l1 := NewMemoryCache(8)
	l2 := NewMemoryCache(8)

	lc := NewLayeredCacheWithConfig(LayeredCacheConfig{
		L1:       l1,
		L2:       l2,
		L1MaxTTL: 10 * time.Millisecond,
	})
	defer lc.Close()

	ctx := context.Background()
	if err := lc.Set(ctx, metaKey, "v", time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	time.Sleep(25 * time.Millisecond)

	// L1 entry expired at the cap but L2 still holds the long TTL
	if _, err := l1.Get(ctx, metaKey); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected capped L1 entry to expire, got %v", err)
	}
	if _, err := lc.Get(ctx, metaKey); err != nil {
		t.Errorf("Expected layered read to still hit L2, got %v", err)
	}
}

func TestLayeredCache_L1FaultDegradesToL2(t *testing.T) {
	l1 := newRecordingStore()
	l1.getErr = errors.New("l1 broken")
	l2 := newRecordingStore()
	l2.data[metaKey] = "v"

	lc := NewLayeredCache(l1, l2)
	defer lc.Close()

	val, err := lc.Get(context.Background(), metaKey)
	if err != nil {
		t.Fatalf("Expected degraded read to succeed, got %v", err)
	}
	if val != "v" {
		t.Errorf("Expected L2 value, got %v", val)
	}
}

func TestLayeredCache_MissFromBothLayers(t *testing.T) {
	lc := NewLayeredCache(newRecordingStore(), newRecordingStore())
	defer lc.Close()

	if _, err := lc.Get(context.Background(), "absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestLayeredCache_SingleLayerConfigs(t *testing.T) {
	tests := []struct {
		name string
		make func() *LayeredCache
	}{
		{"l1 only", func() *LayeredCache { return NewLayeredCache(NewMemoryCache(8), nil) }},
		{"l2 only", func() *LayeredCache { return NewLayeredCache(nil, NewMemoryCache(8)) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc := tt.make()
			defer lc.Close()

			ctx := context.Background()
			if err := lc.Set(ctx, metaKey, "v", time.Minute); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			val, err := lc.Get(ctx, metaKey)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if val != "v" {
				t.Errorf("Expected stored value, got %v", val)
			}
			if _, err := lc.Get(ctx, "absent"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestLayeredCache_WriteFailureSurfacesOnlyWhenBothFail(t *testing.T) {
	ctx := context.Background()

	l1 := newRecordingStore()
	l2 := newRecordingStore()
	l2.setErr = errors.New("l2 down")

	lc := NewLayeredCache(l1, l2)
	if err := lc.Set(ctx, metaKey, "v", time.Minute); err != nil {
		t.Errorf("Expected write to succeed while L1 holds, got %v", err)
	}

	l1.setErr = errors.New("l1 down")
	if err := lc.Set(ctx, metaKey, "v", time.Minute); err == nil {
		t.Error("Expected error when every layer fails")
	}
}

func TestLayeredCache_DeleteRemovesBothLayers(t *testing.T) {
	l1 := newRecordingStore()
	l2 := newRecordingStore()
	l1.data[metaKey] = "v"
	l2.data[metaKey] = "v"

	lc := NewLayeredCache(l1, l2)
	defer lc.Close()

	if err := lc.Delete(context.Background(), metaKey); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if l1.deletes != 1 || l2.deletes != 1 {
		t.Errorf("Expected delete in both layers, got L1=%d L2=%d", l1.deletes, l2.deletes)
	}
}

func TestLayeredCache_CloseClosesBothLayers(t *testing.T) {
	l1 := newRecordingStore()
	l2 := newRecordingStore()

	lc := NewLayeredCache(l1, l2)
	if err := lc.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !l1.closed || !l2.closed {
		t.Errorf("Expected both layers closed, got L1=%v L2=%v", l1.closed, l2.closed)
	}
}

func TestLayeredCache_DefaultL1TTLCap(t *testing.T) {
	lc := NewLayeredCacheWithConfig(LayeredCacheConfig{L1: newRecordingStore()})
	defer lc.Close()

	if lc.l1MaxTTL != DefaultL1MaxTTL {
		t.Errorf("Expected default L1 TTL cap %v, got %v", DefaultL1MaxTTL, lc.l1MaxTTL)
	}
}
