// Package influxdb writes fleet metrics to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. Points are batched
// by the non-blocking write API and cover:
//   - script_execution: one point per finished run (status, duration)
//   - script_step: per-step timing and locator strategy
//   - device_battery: battery readings from device observations
//   - scheduler_queue: queue depth and running tasks
//
// The integration is optional. Connect returns ErrDisabled when
// influxdb.enabled is false:
//
//	metrics, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without metrics
//	}
package influxdb
