package loadtest

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rosterhq/rostersync/internal/remote"
)

func quietOptions(devices, writes int) Options {
	return Options{
		Devices:         devices,
		WritesPerDevice: writes,
		Logger:          log.New(io.Discard, "", 0),
	}
}

func runFleet(t *testing.T, backend remote.Backend, opts Options) *Report {
	t.Helper()
	fleet, err := NewFleet(backend, opts)
	if err != nil {
		t.Fatalf("Failed to create fleet: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	report, err := fleet.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if err := fleet.Drain(ctx); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	return report
}

// TestFleet_Memory verifies every write is acknowledged and observed.
func TestFleet_Memory(t *testing.T) {
	report := runFleet(t, remote.NewMemoryBackend(), quietOptions(5, 4))

	if report.Failed != 0 {
		t.Errorf("Got %d failed writes", report.Failed)
	}
	if report.Writes.Count != 20 {
		t.Errorf("Expected 20 acknowledged writes, got %d", report.Writes.Count)
	}
	if !report.Converged() {
		t.Errorf("Observer missed %d writes", report.Missed)
	}
	if report.Propagation.Count != 20 {
		t.Errorf("Expected 20 propagated writes, got %d", report.Propagation.Count)
	}
	report.Writes.Print(os.Stdout, "Write latency")
}

// TestFleet_SQL runs a smaller fleet against the SQLite document store.
func TestFleet_SQL(t *testing.T) {
	backend, err := remote.OpenSQL(filepath.Join(t.TempDir(), "docs.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer backend.Close()

	report := runFleet(t, backend, quietOptions(3, 3))
	if report.Failed != 0 || !report.Converged() {
		t.Errorf("Expected clean run, got failed=%d missed=%d", report.Failed, report.Missed)
	}
}

// TestFleet_DownBackend counts every write as failed.
func TestFleet_DownBackend(t *testing.T) {
	backend := remote.NewMemoryBackend()
	backend.Close()

	fleet, err := NewFleet(backend, quietOptions(2, 2))
	if err != nil {
		t.Fatalf("Failed to create fleet: %v", err)
	}
	if _, err := fleet.Run(context.Background()); err == nil {
		t.Error("Expected an error when the observer cannot listen")
	}
}

func TestNewFleet_NilBackend(t *testing.T) {
	if _, err := NewFleet(nil, Options{}); err == nil {
		t.Error("Expected error for nil backend")
	}
}

func TestComputeLatencyStats(t *testing.T) {
	var durs []time.Duration
	for i := 100; i >= 1; i-- {
		durs = append(durs, time.Duration(i)*time.Millisecond)
	}
	s := computeLatencyStats(durs)

	if s.Count != 100 {
		t.Errorf("Count = %d, want 100", s.Count)
	}
	if s.Min != time.Millisecond || s.Max != 100*time.Millisecond {
		t.Errorf("Min/Max = %v/%v", s.Min, s.Max)
	}
	if s.P50 != 51*time.Millisecond {
		t.Errorf("P50 = %v, want 51ms", s.P50)
	}
	if s.Mean != 50500*time.Microsecond {
		t.Errorf("Mean = %v, want 50.5ms", s.Mean)
	}
	if got := computeLatencyStats(nil); got.Count != 0 {
		t.Errorf("empty input should give zero stats, got %+v", got)
	}
}
