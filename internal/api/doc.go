// Package api implements the operations HTTP API and WebSocket feed for fleetd.
//
// This package provides:
//   - Read endpoints for devices, plans, the task queue, scripts and results
//   - Plan add/remove and external event injection
//   - A WebSocket hub broadcasting results and device transitions
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The server is an observer of the orchestrator. It reads the registry and
// scheduler snapshots directly and never reserves devices itself; the only
// writes it performs are plan changes and injected events, both of which
// go through the scheduler's own validation.
//
// # Graceful Degradation
//
// The result store and the orchestrator are optional. Without a result
// store the /results endpoints answer 503; without an orchestrator events
// are handed straight to the scheduler.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
