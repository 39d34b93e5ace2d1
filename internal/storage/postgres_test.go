package storage

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getPostgresDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set, skipping PostgreSQL tests")
	}
	return dsn
}

func TestPostgresStorageConnectionError(t *testing.T) {
	_, err := NewPostgresStorage(Config{ConnectionString: ""})
	assert.Error(t, err)
}

func TestPostgresStorageInvalidDSN(t *testing.T) {
	_, err := NewPostgresStorage(Config{ConnectionString: "postgres://invalid:5432/nonexistent?connect_timeout=1"})
	assert.Error(t, err)
}

// Rows are not cleaned up between runs; every fixture uses fresh unique keys.
func TestPostgresStorage(t *testing.T) {
	dsn := getPostgresDSN(t)
	runStorageContract(t, func(t *testing.T) Storage {
		s, err := NewPostgresStorage(Config{ConnectionString: dsn, MaxOpenConns: 4})
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}
