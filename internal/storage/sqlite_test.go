package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := NewSQLiteStorage(Config{Path: filepath.Join(t.TempDir(), "tracker.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStorage(t *testing.T) {
	runStorageContract(t, func(t *testing.T) Storage {
		return newSQLiteTestStorage(t)
	})
}

func TestSQLiteStorage_RequiresLocation(t *testing.T) {
	_, err := NewSQLiteStorage(Config{})
	assert.Error(t, err)
}

func TestSQLiteStorage_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker.db")
	ctx := context.Background()

	s, err := NewSQLiteStorage(Config{ConnectionString: path})
	require.NoError(t, err)
	order := newTestOrder("", baseTime)
	require.NoError(t, s.CreateOrder(ctx, order))
	require.NoError(t, s.Close())

	// Applying the schema again must keep existing rows.
	s, err = NewSQLiteStorage(Config{ConnectionString: path})
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetOrderByTrackingNumber(ctx, order.Shipment.TrackingNumber)
	require.NoError(t, err)
	assert.Equal(t, order.OrderNumber, got.OrderNumber)
	assert.Len(t, got.Shipment.Events, 2)
}

func TestSQLiteStorage_ForeignKeys(t *testing.T) {
	s := newSQLiteTestStorage(t)

	// The customer was never saved.
	order := newTestOrder("missing-customer", baseTime)
	err := s.CreateOrder(context.Background(), order)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrConflict)

	_, err = s.GetOrderByTrackingNumber(context.Background(), order.Shipment.TrackingNumber)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteDSN(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain path", "/tmp/t.db", "/tmp/t.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"},
		{"existing query", "file:t.db?mode=rwc", "file:t.db?mode=rwc&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"},
		{"caller pragmas", "t.db?_pragma=journal_mode(WAL)", "t.db?_pragma=journal_mode(WAL)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sqliteDSN(tt.in))
		})
	}
}
