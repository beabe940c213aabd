package alerts

import (
	"testing"
	"time"

	registry "beacon-guard/internal/registry/domain"
)

func TestKindClassification(t *testing.T) {
	cases := []struct {
		kind       Kind
		problem    bool
		resolution bool
		exempt     bool
	}{
		{KindMovement, true, false, false},
		{KindOffline, true, false, true},
		{KindNotLocked, true, false, false},
		{KindRecovery, false, true, false},
		{KindLocked, false, true, false},
		{KindOnline, false, true, false},
		{KindTrainingProgress, false, false, true},
		{KindTrainingInitiated, false, false, false},
		{KindDevicesRefreshed, false, false, false},
	}
	for _, tc := range cases {
		if tc.kind.IsProblem() != tc.problem {
			t.Fatalf("%s: expected problem=%v", tc.kind, tc.problem)
		}
		if tc.kind.IsResolution() != tc.resolution {
			t.Fatalf("%s: expected resolution=%v", tc.kind, tc.resolution)
		}
		if tc.kind.CooldownExempt() != tc.exempt {
			t.Fatalf("%s: expected exempt=%v", tc.kind, tc.exempt)
		}
	}
}

func TestKindStatus(t *testing.T) {
	if status, ok := KindMovement.Status(); !ok || status != registry.StatusMoved {
		t.Fatalf("expected moved, got %s", status)
	}
	if status, ok := KindOnline.Status(); !ok || status != registry.StatusNormal {
		t.Fatalf("expected normal, got %s", status)
	}
	if _, ok := KindDevicesRefreshed.Status(); ok {
		t.Fatalf("expected no status for devices_refreshed")
	}
}

func TestEventValidate(t *testing.T) {
	ev := Event{DeviceID: 1, Kind: KindMovement, Message: "moved", CreatedAt: time.Now()}
	if err := ev.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ev.DeviceID = 0
	if err := ev.Validate(); err == nil {
		t.Fatalf("expected device id error")
	}
}
