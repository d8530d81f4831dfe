package leader

import (
	"os"
	"testing"
	"time"
)

func TestIdentity_FromPodName(t *testing.T) {
	t.Setenv("POD_NAME", "auctiond-abc123")
	if got := identity(); got != "auctiond-abc123" {
		t.Errorf("identity() = %q, want %q", got, "auctiond-abc123")
	}
}

func TestIdentity_Hostname(t *testing.T) {
	t.Setenv("POD_NAME", "")
	host, err := os.Hostname()
	if err != nil {
		t.Skip("cannot get hostname")
	}
	if got := identity(); got != host {
		t.Errorf("identity() = %q, want %q", got, host)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Enabled {
		t.Error("leader election should be disabled by default")
	}
	if cfg.LeaseName != "auctiond-leader" {
		t.Errorf("lease name = %q, want %q", cfg.LeaseName, "auctiond-leader")
	}
	if cfg.LeaseDuration <= cfg.RenewDeadline {
		t.Error("lease duration must exceed renew deadline")
	}
	if cfg.RetryPeriod <= 0 || cfg.RetryPeriod >= 10*time.Second {
		t.Errorf("retry period = %v out of expected range", cfg.RetryPeriod)
	}
}
