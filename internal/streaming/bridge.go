package streaming

import (
	"context"

	"github.com/trendy-design/taskflow/internal/engine"
	"github.com/trendy-design/taskflow/internal/state"
)

// Observer forwards engine lifecycle events to a hub.
type Observer struct {
	hub EventHub
}

// NewObserver creates an engine observer publishing to hub.
func NewObserver(hub EventHub) *Observer {
	return &Observer{hub: hub}
}

// OnEvent publishes ev. The run context may already be cancelled by a hard
// abort, so publishing is detached from it.
func (o *Observer) OnEvent(ctx context.Context, ev engine.LifecycleEvent) {
	payload := map[string]any{}
	for k, v := range ev.Data {
		payload[k] = v
	}
	if ev.Status != "" {
		payload["status"] = string(ev.Status)
	}
	if ev.Attempt > 0 {
		payload["attempt"] = ev.Attempt
	}
	if ev.Duration > 0 {
		payload["duration_ms"] = ev.Duration.Milliseconds()
	}
	if ev.Error != "" {
		payload["error"] = ev.Error
	}

	_ = o.hub.Publish(context.WithoutCancel(ctx), StreamEvent{
		RunID:     ev.RunID,
		Source:    SourceEngine,
		Type:      ev.Type,
		Task:      ev.Task,
		Payload:   payload,
		Timestamp: ev.Timestamp,
	})
}

// BridgeEvents publishes every value emitted on events under runID. The
// returned function detaches the bridge.
func BridgeEvents(hub EventHub, runID string, events *state.Events) func() {
	return events.OnAll(state.ListenerFunc(func(key string, value any) {
		_ = hub.Publish(context.Background(), StreamEvent{
			RunID:   runID,
			Source:  SourceEvents,
			Type:    EventEmitted,
			Key:     key,
			Payload: value,
		})
	}))
}
