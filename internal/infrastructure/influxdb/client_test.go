package influxdb_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/terminail/autodroid-sub001/internal/infrastructure/config"
	"github.com/terminail/autodroid-sub001/internal/infrastructure/influxdb"
)

// testConfig matches a local dev InfluxDB on the default port.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "fleetd-dev-token",
		Org:           "fleet",
		Bucket:        "metrics",
		BatchSize:     10,
		FlushInterval: 1,
	}
}

// connectOrSkip skips the test if InfluxDB is not running.
func connectOrSkip(t *testing.T) *influxdb.Client {
	t.Helper()
	client, err := influxdb.Connect(context.Background(), testConfig())
	if err != nil {
		t.Skip("InfluxDB not available, skipping integration test")
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := influxdb.Connect(context.Background(), cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_InvalidURL(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999"

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := influxdb.Connect(ctx, cfg)
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect(t *testing.T) {
	client := connectOrSkip(t)

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

// =============================================================================
// Write Tests
// =============================================================================

func TestWrites(t *testing.T) {
	client := connectOrSkip(t)

	var writeErr error
	client.SetOnError(func(err error) { writeErr = err })

	now := time.Now()
	client.WriteExecution(influxdb.Execution{
		ScriptName: "app_smoke",
		DeviceID:   "emulator-5554",
		Status:     "success",
		Duration:   1500 * time.Millisecond,
		StepCount:  3,
		FailedStep: -1,
		EndTime:    now,
	})
	client.WriteStep(influxdb.Step{ScriptName: "app_smoke", DeviceID: "emulator-5554", Action: "click", Strategy: "id", Success: true, Attempts: 1})
	client.WriteDeviceBattery("emulator-5554", "Pixel 7", 85, now)
	client.WriteQueueDepth(2, 1, now)
	client.Flush()

	if writeErr != nil {
		t.Errorf("async write error = %v", writeErr)
	}
}

func TestClose(t *testing.T) {
	client := connectOrSkip(t)

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}

	// Writes and Flush after Close are no-ops.
	client.WriteDeviceBattery("d", "m", 50, time.Now())
	client.Flush()
}

func TestClose_Nil(t *testing.T) {
	var client influxdb.Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on zero client error = %v", err)
	}
}
