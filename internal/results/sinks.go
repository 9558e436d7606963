package results

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/terminail/autodroid-sub001/internal/bus"
	"github.com/terminail/autodroid-sub001/internal/infrastructure/influxdb"
	"github.com/terminail/autodroid-sub001/internal/infrastructure/mqtt"
	"github.com/terminail/autodroid-sub001/internal/script"
)

// ─── Metrics ───────────────────────────────────────────────────────

// MetricsWriter is the part of *influxdb.Client the metrics sink uses.
type MetricsWriter interface {
	WriteExecution(e influxdb.Execution)
	WriteStep(s influxdb.Step)
}

// MetricsSink writes one execution point and one point per step.
type MetricsSink struct {
	w MetricsWriter
}

// NewMetricsSink creates a metrics sink.
func NewMetricsSink(w MetricsWriter) *MetricsSink {
	return &MetricsSink{w: w}
}

// Save implements Sink. Writes are asynchronous and never fail here.
func (m *MetricsSink) Save(_ context.Context, res script.Result) error {
	failed := -1
	if res.FailedStepIndex != nil {
		failed = *res.FailedStepIndex
	}
	m.w.WriteExecution(influxdb.Execution{
		ScriptName: res.ScriptName,
		DeviceID:   res.DeviceID,
		Status:     string(res.Status),
		ErrorType:  res.ErrorType,
		Duration:   time.Duration(res.ExecutionTime * float64(time.Second)),
		StepCount:  len(res.Steps),
		FailedStep: failed,
		DeviceLost: res.DeviceLost,
		EndTime:    res.EndTime,
	})
	for _, st := range res.Steps {
		m.w.WriteStep(influxdb.Step{
			ScriptName: res.ScriptName,
			DeviceID:   res.DeviceID,
			Action:     st.Action,
			Strategy:   st.Strategy,
			Success:    st.Success,
			Attempts:   st.Attempts,
			Duration:   st.Duration,
			EndTime:    st.End,
		})
	}
	return nil
}

// ─── Command Bus ───────────────────────────────────────────────────

// BusSink publishes results on the device's result topic. Results without
// a device go to the orchestrator results topic.
type BusSink struct {
	bus bus.Bus
}

// NewBusSink creates a bus sink.
func NewBusSink(b bus.Bus) *BusSink {
	return &BusSink{bus: b}
}

// Save implements Sink.
func (s *BusSink) Save(ctx context.Context, res script.Result) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshalling result: %w", err)
	}
	topic := mqtt.Topics{}.OrchestratorResults()
	if res.DeviceID != "" {
		topic = mqtt.Topics{}.DeviceResult(res.DeviceID)
	}
	return s.bus.Publish(ctx, topic, payload)
}

// ─── WebSocket ─────────────────────────────────────────────────────

// ChannelResults is the WebSocket channel results are broadcast on.
const ChannelResults = "results"

// Broadcaster is satisfied by the API's WebSocket hub.
type Broadcaster interface {
	Broadcast(channel string, payload any)
}

// HubSink broadcasts results to subscribed WebSocket clients.
type HubSink struct {
	hub Broadcaster
}

// NewHubSink creates a hub sink.
func NewHubSink(hub Broadcaster) *HubSink {
	return &HubSink{hub: hub}
}

// Save implements Sink.
func (s *HubSink) Save(_ context.Context, res script.Result) error {
	s.hub.Broadcast(ChannelResults, res)
	return nil
}
