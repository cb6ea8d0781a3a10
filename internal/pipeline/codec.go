package pipeline

import (
	"encoding/json"

	"github.com/signalforge/fusion/internal/model"
)

// encodeFusedEvent serializes a FusedEvent as a single JSON field, unlike
// RawEvent's flattened encoding: FusedEvent nests Signal/Decision and has
// no flat field the stream schema benefits from exposing individually.
func encodeFusedEvent(fused model.FusedEvent) map[string]string {
	payload, _ := json.Marshal(fused)
	return map[string]string{
		"idempotency_key": fused.IdempotencyKey,
		"payload":         string(payload),
	}
}

// DecodeFusedEvent is the inverse of encodeFusedEvent, for readers of
// events:fused. The Pusher receives FusedEvents in-process from a Stage and
// does not call it.
func DecodeFusedEvent(fields map[string]string) (model.FusedEvent, error) {
	var fused model.FusedEvent
	err := json.Unmarshal([]byte(fields["payload"]), &fused)
	return fused, err
}
