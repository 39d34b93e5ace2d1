package observability

import (
	"context"
	"errors"
	"strings"
	"testing"

	promclient "github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracker/internal/models"
	"tracker/internal/storage"
)

// gatherFamily returns the metric family whose name starts with prefix.
func gatherFamily(t *testing.T, reg *promclient.Registry, prefix string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if strings.HasPrefix(mf.GetName(), prefix) {
			return mf
		}
	}
	return nil
}

// labelsMatch reports whether m carries every label in want.
func labelsMatch(m *dto.Metric, want map[string]string) bool {
	found := 0
	for _, lp := range m.GetLabel() {
		if v, ok := want[lp.GetName()]; ok && v == lp.GetValue() {
			found++
		}
	}
	return found == len(want)
}

func counterValue(mf *dto.MetricFamily, labels map[string]string) float64 {
	if mf == nil {
		return 0
	}
	for _, m := range mf.GetMetric() {
		if labelsMatch(m, labels) {
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func setupMemoryStorage(t *testing.T) storage.Storage {
	t.Helper()
	s, err := storage.NewMemoryStorage(storage.Config{Type: "memory"})
	require.NoError(t, err)
	return s
}

func testOrder() *models.Order {
	return &models.Order{
		ID:          "o1",
		OrderNumber: "ORD-1001",
		Items:       []models.Item{{ID: "i1", Name: "Mug", Quantity: 1}},
		Shipment:    &models.Shipment{ID: "s1", TrackingNumber: "TRK-ABC123", Status: models.ShipmentStatusCreated},
	}
}

type failingStorage struct {
	storage.Storage
}

func (failingStorage) Ping(ctx context.Context) error {
	return errors.New("connection refused")
}

func TestInstrumentedStorage_Operations(t *testing.T) {
	setupTestProvider(t, testConfig(true, true))
	instrumented, err := NewInstrumentedStorage(setupMemoryStorage(t))
	require.NoError(t, err)
	ctx := context.Background()

	customer := &models.Customer{ID: "c1", PhoneE164: "+447700900123", AccessCode: "ACC-7H92Q3KD"}
	require.NoError(t, instrumented.SaveCustomer(ctx, customer))

	order := testOrder()
	order.CustomerID = "c1"
	require.NoError(t, instrumented.CreateOrder(ctx, order))

	got, err := instrumented.GetOrderByTrackingNumber(ctx, "TRK-ABC123")
	require.NoError(t, err)
	assert.Equal(t, "ORD-1001", got.OrderNumber)

	c, err := instrumented.GetCustomerByAccessCode(ctx, "ACC-7H92Q3KD")
	require.NoError(t, err)
	assert.Equal(t, "c1", c.ID)

	orders, err := instrumented.OrdersByCustomer(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, orders, 1)

	event := &models.TrackingEvent{ID: "e1", Status: "Delivered", Location: "Nouakchott", Description: "Delivered"}
	require.NoError(t, instrumented.AddTrackingEvent(ctx, "TRK-ABC123", event))

	assert.NoError(t, instrumented.Ping(ctx))
	assert.NoError(t, instrumented.Close())
}

func TestInstrumentedStorage_ErrorsPassThrough(t *testing.T) {
	setupTestProvider(t, testConfig(true, false))
	instrumented, err := NewInstrumentedStorage(setupMemoryStorage(t))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = instrumented.GetOrderByTrackingNumber(ctx, "TRK-MISSING")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, instrumented.CreateOrder(ctx, testOrder()))
	assert.ErrorIs(t, instrumented.CreateOrder(ctx, testOrder()), storage.ErrConflict)
}

func TestInstrumentedStorage_ErrorCounter(t *testing.T) {
	_, reg := setupTestProvider(t, testConfig(true, false))
	instrumented, err := NewInstrumentedStorage(failingStorage{Storage: setupMemoryStorage(t)})
	require.NoError(t, err)
	ctx := context.Background()

	assert.Error(t, instrumented.Ping(ctx))
	assert.Error(t, instrumented.Ping(ctx))

	// Not-found lookups are not errors.
	_, err = instrumented.GetOrderByTrackingNumber(ctx, "TRK-MISSING")
	require.Error(t, err)

	mf := gatherFamily(t, reg, "storage_operation_errors")
	require.NotNil(t, mf)
	assert.Equal(t, 2.0, counterValue(mf, map[string]string{"operation": "Ping"}))
	assert.Zero(t, counterValue(mf, map[string]string{"operation": "GetOrderByTrackingNumber"}))
}
