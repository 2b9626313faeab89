package events_test

import (
	"encoding/json"
	"testing"

	"github.com/AngellusMortis/ark-operator/pkg/events"
)

func TestRestartRequestEventRoundTrips(t *testing.T) {
	event := events.RestartRequestEvent{
		Cluster:   "demo",
		Namespace: "ark",
		Reason:    "configuration update",
		Maps:      []string{"TheIsland_WP"},
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got events.RestartRequestEvent
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Cluster != "demo" || got.Reason != "configuration update" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}
