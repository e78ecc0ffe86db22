package health

import (
	"testing"
)

func TestChecker_Basic(t *testing.T) {
	checker := NewChecker("1.0.0")

	status := checker.GetStatus()

	if status.Status != "ok" {
		t.Errorf("expected status 'ok', got %s", status.Status)
	}

	if status.Version != "1.0.0" {
		t.Errorf("expected version '1.0.0', got %s", status.Version)
	}

	if status.UptimeSeconds < 0 {
		t.Error("expected non-negative uptime")
	}
}

func TestChecker_SetComponent(t *testing.T) {
	checker := NewChecker("1.0.0")

	checker.SetComponent("acquisition", true, "streaming")

	status := checker.GetStatus()

	if len(status.Components) != 1 {
		t.Errorf("expected 1 component, got %d", len(status.Components))
	}

	acq, ok := status.Components["acquisition"]
	if !ok {
		t.Fatal("expected acquisition component")
	}

	if !acq.Healthy || acq.Message != "streaming" {
		t.Errorf("unexpected check %+v", acq)
	}
}

func TestChecker_Degraded(t *testing.T) {
	checker := NewChecker("1.0.0")

	checker.SetComponent("tracker", true, "ok")
	checker.SetComponent("acquisition", false, "disconnected")

	status := checker.GetStatus()

	if status.Status != "degraded" {
		t.Errorf("expected status 'degraded', got %s", status.Status)
	}

	if checker.IsHealthy() {
		t.Error("expected IsHealthy() to return false")
	}
}

func TestChecker_Unhealthy(t *testing.T) {
	checker := NewChecker("1.0.0")

	checker.SetComponent("tracker", false, "no polls")
	checker.SetComponent("acquisition", false, "disconnected")

	if status := checker.GetStatus(); status.Status != "unhealthy" {
		t.Errorf("expected status 'unhealthy', got %s", status.Status)
	}
}

func TestChecker_Probes(t *testing.T) {
	checker := NewChecker("1.0.0")

	connected := false
	checker.Register("acquisition", func() (bool, string) {
		if connected {
			return true, "streaming"
		}
		return false, "disconnected"
	})

	// Register evaluates the probe immediately
	if checker.IsHealthy() {
		t.Error("expected unhealthy before connect")
	}

	connected = true
	checker.Refresh()

	if !checker.IsHealthy() {
		t.Error("expected healthy after refresh")
	}

	status := checker.GetStatus()
	if status.Components["acquisition"].Message != "streaming" {
		t.Errorf("unexpected message %q", status.Components["acquisition"].Message)
	}
}

func TestChecker_MultipleComponents(t *testing.T) {
	checker := NewChecker("1.0.0")

	checker.SetComponent("acquisition", true, "")
	checker.SetComponent("tracker", true, "")
	checker.Register("server", func() (bool, string) { return true, "" })

	status := checker.GetStatus()

	if len(status.Components) != 3 {
		t.Errorf("expected 3 components, got %d", len(status.Components))
	}

	if status.Status != "ok" {
		t.Errorf("expected status 'ok', got %s", status.Status)
	}
}
