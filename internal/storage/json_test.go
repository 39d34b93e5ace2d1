package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStorage(t *testing.T) *JSONStorage {
	t.Helper()
	storage, err := NewJSONStorage(Config{
		Type:     "json",
		Path:     filepath.Join(t.TempDir(), "tracker.json"),
		CacheTTL: time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })
	return storage
}

func TestJSONStorage(t *testing.T) {
	runStorageContract(t, func(t *testing.T) Storage {
		return setupTestStorage(t)
	})
}

func TestNewJSONStorage(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "test.json")

	storage, err := NewJSONStorage(Config{Type: "json", Path: filePath, CacheTTL: time.Minute})
	require.NoError(t, err)
	require.NotNil(t, storage)
	defer storage.Close()

	assert.FileExists(t, filePath)
	assert.Equal(t, time.Minute, storage.cacheTTL)
}

func TestNewJSONStorage_DefaultCacheTTL(t *testing.T) {
	storage, err := NewJSONStorage(Config{Path: filepath.Join(t.TempDir(), "test.json")})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, storage.cacheTTL)
}

func TestNewJSONStorage_FilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not enforced on Windows")
	}
	filePath := filepath.Join(t.TempDir(), "subdir", "test.json")

	storage, err := NewJSONStorage(Config{Type: "json", Path: filePath})
	require.NoError(t, err)
	defer storage.Close()

	dirInfo, err := os.Stat(filepath.Dir(filePath))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), dirInfo.Mode().Perm())

	fileInfo, err := os.Stat(filePath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), fileInfo.Mode().Perm())
}

func TestNewJSONStorage_InvalidPath(t *testing.T) {
	_, err := NewJSONStorage(Config{Type: "json", Path: "/"})
	assert.Error(t, err)

	_, err = NewJSONStorage(Config{Type: "json"})
	assert.Error(t, err)
}

func TestJSONStorage_CarrierPersisted(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	order := newTestOrder("", baseTime)
	require.NoError(t, storage.CreateOrder(ctx, order))

	raw, err := os.ReadFile(storage.filePath)
	require.NoError(t, err)

	var data struct {
		Orders []struct {
			Carrier string         `json:"carrier"`
			Order   map[string]any `json:"order"`
		} `json:"orders"`
	}
	require.NoError(t, json.Unmarshal(raw, &data))
	require.Len(t, data.Orders, 1)
	assert.Equal(t, "Aramex", data.Orders[0].Carrier)

	shipment, ok := data.Orders[0].Order["shipment"].(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, shipment, "carrier")
}

func TestJSONStorage_SurvivesReopen(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "tracker.json")
	ctx := context.Background()

	first, err := NewJSONStorage(Config{Path: filePath})
	require.NoError(t, err)
	customer := newTestCustomer()
	require.NoError(t, first.SaveCustomer(ctx, customer))
	order := newTestOrder(customer.ID, baseTime)
	require.NoError(t, first.CreateOrder(ctx, order))

	second, err := NewJSONStorage(Config{Path: filePath})
	require.NoError(t, err)

	got, err := second.GetOrderByTrackingNumber(ctx, order.Shipment.TrackingNumber)
	require.NoError(t, err)
	assert.Equal(t, "Aramex", got.Shipment.Carrier)

	orders, err := second.OrdersByCustomer(ctx, customer.ID)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestJSONStorage_Caching(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	order := newTestOrder("", baseTime)
	require.NoError(t, storage.CreateOrder(ctx, order))

	// Replace the file behind the cache's back.
	require.NoError(t, os.WriteFile(storage.filePath, []byte(`{"customers":[],"orders":[]}`), 0600))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(storage.filePath, future, future))

	// Still cached.
	_, err := storage.GetOrderByTrackingNumber(ctx, order.Shipment.TrackingNumber)
	require.NoError(t, err)

	// Expire the cache and the outside edit becomes visible.
	storage.mu.Lock()
	storage.cacheExpiry = time.Time{}
	storage.mu.Unlock()

	_, err = storage.GetOrderByTrackingNumber(ctx, order.Shipment.TrackingNumber)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJSONStorage_CorruptFile(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "tracker.json")
	require.NoError(t, os.WriteFile(filePath, []byte("{not json"), 0600))

	_, err := NewJSONStorage(Config{Path: filePath})
	assert.Error(t, err)
}

func TestJSONStorage_ConcurrentAccess(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	const numGoroutines = 10
	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	customer := newTestCustomer()
	require.NoError(t, storage.SaveCustomer(ctx, customer))

	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()

			order := newTestOrder(customer.ID, baseTime)
			assert.NoError(t, storage.CreateOrder(ctx, order))

			_, err := storage.GetOrderByTrackingNumber(ctx, order.Shipment.TrackingNumber)
			assert.NoError(t, err)

			_, err = storage.OrdersByCustomer(ctx, customer.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	orders, err := storage.OrdersByCustomer(ctx, customer.ID)
	require.NoError(t, err)
	assert.Len(t, orders, numGoroutines)
}

func TestJSONStorage_ConcurrentLoad(t *testing.T) {
	storage := setupTestStorage(t)

	// Expire the cache so all goroutines hit the slow path.
	storage.mu.Lock()
	storage.cacheExpiry = time.Time{}
	storage.mu.Unlock()

	const n = 20
	errs := make(chan error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			errs <- storage.loadData()
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	storage.mu.RLock()
	assert.NotNil(t, storage.data)
	storage.mu.RUnlock()
}
