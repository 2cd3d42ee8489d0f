package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asnowfix/ruuvi-collector/pkg/ble"
	"github.com/asnowfix/ruuvi-collector/pkg/ruuvi"
)

func enhanced() *ruuvi.Enhanced {
	temp, rssi := 21.5, -70
	return &ruuvi.Enhanced{
		Measurement: ruuvi.Measurement{
			Address:     ble.Address("C6D2E1A7B349"),
			DataFormat:  5,
			RSSI:        &rssi,
			Temperature: &temp,
		},
		Name: "Kitchen",
		Time: time.Unix(1700000000, 0),
	}
}

func TestObserve(t *testing.T) {
	m := New()
	m.Observe(enhanced())

	assert.Equal(t, 21.5, testutil.ToFloat64(m.Temperature.WithLabelValues("C6D2E1A7B349", "Kitchen")))
	assert.Equal(t, -70.0, testutil.ToFloat64(m.SignalStrength.WithLabelValues("C6D2E1A7B349", "Kitchen")))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(m.LastSeen.WithLabelValues("C6D2E1A7B349", "Kitchen")))
	// missing values create no series
	assert.Equal(t, 0, testutil.CollectAndCount(m.Humidity))
}

func TestObserveDropsMissingValues(t *testing.T) {
	m := New()
	m.Observe(enhanced())
	require.Equal(t, 1, testutil.CollectAndCount(m.Temperature))

	e := enhanced()
	e.Temperature = nil
	e.RSSI = nil
	m.Observe(e)
	assert.Equal(t, 0, testutil.CollectAndCount(m.Temperature), "no stale temperature")
	assert.Equal(t, 0, testutil.CollectAndCount(m.SignalStrength))
	assert.Equal(t, 1, testutil.CollectAndCount(m.LastSeen))
}

func TestMetricsEndpoint(t *testing.T) {
	m := New()
	m.Frames.Add(3)
	m.Observe(enhanced())

	srv := httptest.NewServer(NewExporter(testr.New(t), m, "127.0.0.1:0", nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	n, err := testutil.GatherAndCount(m.Registry, "ruuvi_capture_frames_total", "ruuvi_tag_temperature_celsius")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestHealthEndpoint(t *testing.T) {
	var down atomic.Bool
	health := func() error {
		if down.Load() {
			return errors.New("adapter disconnected")
		}
		return nil
	}
	srv := httptest.NewServer(NewExporter(testr.New(t), New(), "127.0.0.1:0", health).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	down.Store(true)
	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "adapter disconnected")

	resp, err = http.Post(srv.URL+"/health", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
