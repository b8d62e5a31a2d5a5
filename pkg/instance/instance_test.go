package instance

import "testing"

func TestIDPrefersExplicitInstance(t *testing.T) {
	t.Setenv("LUMENPAY_INSTANCE_ID", "sweeper-2")
	t.Setenv("DYNO", "web.1")
	if got := ID("cron-worker"); got != "sweeper-2" {
		t.Fatalf("expected sweeper-2, got %s", got)
	}
}

func TestIDFallsBackToDyno(t *testing.T) {
	t.Setenv("LUMENPAY_INSTANCE_ID", "")
	t.Setenv("DYNO", "worker.3")
	if got := ID("worker"); got != "worker.3" {
		t.Fatalf("expected worker.3, got %s", got)
	}
}
