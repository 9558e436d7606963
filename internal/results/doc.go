// Package results delivers execution results.
//
// A Pipeline first uploads each result's artifacts (failure screenshots)
// to an ArtifactStore, replacing their bytes with a URL, and then hands the
// result to every registered Sink. Sink failures are logged and joined into
// the returned error; one failing sink never stops the others.
//
// Sinks:
//   - SQLiteStore   execution history table
//   - MetricsSink   InfluxDB points per execution and per step
//   - BusSink       fleet/device/{id}/result on the Command Bus
//   - AMQPSink      a RabbitMQ topic exchange, routed by status
//   - HubSink       WebSocket broadcast to API clients
package results
