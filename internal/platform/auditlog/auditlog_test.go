package auditlog

import (
	"net"
	"testing"
	"time"
)

func sampleEvent() Event {
	return Event{
		OccurredAt:   time.Unix(1700000000, 0).UTC(),
		Actor:        "alice",
		Action:       "dataset.create",
		ResourceType: "dataset",
		ResourceID:   "ds-1",
		Tenancy:      "lab-a",
		RequestID:    "req_abc",
		IP:           net.ParseIP("192.0.2.10"),
		UserAgent:    "archivist/1.0",
	}
}

func TestComputeIntegritySHA256_Deterministic(t *testing.T) {
	event := sampleEvent()
	details := []byte(`{"name":"Ice Cores"}`)

	a, err := ComputeIntegritySHA256(event, details)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	b, err := ComputeIntegritySHA256(event, details)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if a != b {
		t.Fatalf("integrity mismatch: %q vs %q", a, b)
	}
}

func TestComputeIntegritySHA256_CoversTenancy(t *testing.T) {
	details := []byte(`{}`)
	a, err := ComputeIntegritySHA256(sampleEvent(), details)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	moved := sampleEvent()
	moved.Tenancy = "lab-b"
	b, err := ComputeIntegritySHA256(moved, details)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if a == b {
		t.Fatal("expected integrity to change with tenancy")
	}
}

func TestEventValidate(t *testing.T) {
	if err := sampleEvent().Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
	for _, tc := range []struct {
		name   string
		mutate func(*Event)
	}{
		{"missing actor", func(e *Event) { e.Actor = " " }},
		{"missing action", func(e *Event) { e.Action = "" }},
		{"missing resource type", func(e *Event) { e.ResourceType = "" }},
		{"missing resource id", func(e *Event) { e.ResourceID = "" }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			event := sampleEvent()
			tc.mutate(&event)
			if err := event.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
