// Package loadtest simulates a fleet of devices sharing one remote store.
//
// Every device has its own in-memory local store and sync engine. Devices
// save rosters concurrently while an observer device listens to every group,
// which measures two things: how long a save takes to be acknowledged by the
// remote store, and how long it takes to reach another device.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	gosync "sync"
	"time"

	"github.com/rosterhq/rostersync/internal/local"
	"github.com/rosterhq/rostersync/internal/remote"
	"github.com/rosterhq/rostersync/internal/roster"
	"github.com/rosterhq/rostersync/internal/sync"
)

// Options configures a Fleet.
type Options struct {
	// Devices is the number of writing devices (default: 10).
	Devices int
	// WritesPerDevice is how many rosters each device saves (default: 10).
	WritesPerDevice int
	// Groups the writes rotate through (default: roster.DefaultGroups).
	Groups []string
	// Org the fleet belongs to (default: "loadtest").
	Org string
	// Settle bounds the wait for the observer after the last write (default: 5s).
	Settle time.Duration
	// Logger for device activity (default: stderr).
	Logger *log.Logger
}

// LatencyStats captures latency metrics from a run.
type LatencyStats struct {
	Min   time.Duration `json:"min" yaml:"min"`
	Max   time.Duration `json:"max" yaml:"max"`
	Mean  time.Duration `json:"mean" yaml:"mean"`
	P50   time.Duration `json:"p50" yaml:"p50"`
	P95   time.Duration `json:"p95" yaml:"p95"`
	P99   time.Duration `json:"p99" yaml:"p99"`
	Count int           `json:"count" yaml:"count"`
}

// Report is the outcome of Fleet.Run.
type Report struct {
	Devices     int           `json:"devices" yaml:"devices"`
	Writes      LatencyStats  `json:"writes" yaml:"writes"`
	Propagation LatencyStats  `json:"propagation" yaml:"propagation"`
	Failed      int           `json:"failed" yaml:"failed"`
	Missed      int           `json:"missed" yaml:"missed"`
	Elapsed     time.Duration `json:"elapsed" yaml:"elapsed"`
}

// Converged reports whether every acknowledged write reached the observer.
func (r *Report) Converged() bool {
	return r.Missed == 0
}

// Fleet is a set of devices sharing a backend.
type Fleet struct {
	opts     Options
	writers  []*roster.Service
	observer *roster.Service
	engines  []*sync.Engine
}

// NewFleet creates opts.Devices writers and one observer on backend.
func NewFleet(backend remote.Backend, opts Options) (*Fleet, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}
	if opts.Devices <= 0 {
		opts.Devices = 10
	}
	if opts.WritesPerDevice <= 0 {
		opts.WritesPerDevice = 10
	}
	if len(opts.Groups) == 0 {
		opts.Groups = roster.DefaultGroups
	}
	if opts.Org == "" {
		opts.Org = "loadtest"
	}
	if opts.Settle <= 0 {
		opts.Settle = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[loadtest] ", log.LstdFlags)
	}

	f := &Fleet{opts: opts}
	newDevice := func() (*roster.Service, error) {
		client, err := remote.NewClient(backend, opts.Org, remote.ClientOptions{Logger: opts.Logger})
		if err != nil {
			return nil, err
		}
		engine := sync.New(local.NewMemoryStore(), client, sync.Options{Logger: opts.Logger})
		f.engines = append(f.engines, engine)
		return roster.NewService(engine, roster.Options{Groups: opts.Groups}), nil
	}

	for i := 0; i < opts.Devices; i++ {
		d, err := newDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to create device %d: %w", i, err)
		}
		f.writers = append(f.writers, d)
	}
	observer, err := newDevice()
	if err != nil {
		return nil, fmt.Errorf("failed to create observer: %w", err)
	}
	f.observer = observer
	return f, nil
}

// athleteID names the single athlete a write carries, so the observer can
// tell writes apart.
func athleteID(device, write int) string {
	return fmt.Sprintf("load-d%03d-w%03d", device, write)
}

// Run performs every write concurrently and waits for the observer to see
// them.
func (f *Fleet) Run(ctx context.Context) (*Report, error) {
	var (
		mu       gosync.Mutex
		sentAt   = make(map[string]time.Time)
		acked    = make(map[string]bool)
		seen     = make(map[string]bool)
		propDurs []time.Duration
	)

	// The first delivery of each listener is the current document; only
	// rosters carrying a sent write count.
	var listeners []*sync.Listener
	for _, g := range f.opts.Groups {
		l := f.observer.ListenRoster(ctx, g, func(athletes []roster.Athlete) {
			now := time.Now()
			mu.Lock()
			defer mu.Unlock()
			for _, a := range athletes {
				start, ok := sentAt[a.ID]
				if !ok || seen[a.ID] {
					continue
				}
				seen[a.ID] = true
				propDurs = append(propDurs, now.Sub(start))
			}
		})
		if l == nil {
			return nil, fmt.Errorf("observer cannot listen to %s", g)
		}
		listeners = append(listeners, l)
	}
	defer func() {
		for _, l := range listeners {
			l.Cancel()
		}
	}()

	start := time.Now()
	var wg gosync.WaitGroup
	resultsChan := make(chan []time.Duration, len(f.writers))
	failedChan := make(chan int, len(f.writers))

	for i, device := range f.writers {
		wg.Add(1)
		go func(deviceID int, device *roster.Service) {
			defer wg.Done()

			durations := make([]time.Duration, 0, f.opts.WritesPerDevice)
			failed := 0
			for j := 0; j < f.opts.WritesPerDevice; j++ {
				id := athleteID(deviceID, j)
				group := f.opts.Groups[(deviceID+j)%len(f.opts.Groups)]

				mu.Lock()
				sentAt[id] = time.Now()
				mu.Unlock()

				began := time.Now()
				w := device.SaveRoster(ctx, group, []roster.Athlete{{ID: id, Name: fmt.Sprintf("Device %d", deviceID), XP: j}})
				o := w.Wait(ctx)
				if o.Status != sync.StatusWritten {
					failed++
					continue
				}
				durations = append(durations, time.Since(began))
				mu.Lock()
				acked[id] = true
				mu.Unlock()
			}
			resultsChan <- durations
			failedChan <- failed
		}(i, device)
	}

	wg.Wait()
	close(resultsChan)
	close(failedChan)

	report := &Report{Devices: len(f.writers)}
	var writeDurs []time.Duration
	for durations := range resultsChan {
		writeDurs = append(writeDurs, durations...)
	}
	for n := range failedChan {
		report.Failed += n
	}

	// Wait for the observer to catch up.
	deadline := time.Now().Add(f.opts.Settle)
	for {
		mu.Lock()
		missed := 0
		for id := range acked {
			if !seen[id] {
				missed++
			}
		}
		mu.Unlock()
		report.Missed = missed
		if missed == 0 || time.Now().After(deadline) || ctx.Err() != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	report.Elapsed = time.Since(start)

	mu.Lock()
	report.Propagation = computeLatencyStats(propDurs)
	mu.Unlock()
	report.Writes = computeLatencyStats(writeDurs)
	return report, nil
}

// Drain waits for every device's background work.
func (f *Fleet) Drain(ctx context.Context) error {
	for _, e := range f.engines {
		if err := e.Drain(ctx); err != nil {
			return err
		}
	}
	return nil
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) LatencyStats {
	if len(durations) == 0 {
		return LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return LatencyStats{
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  sum / time.Duration(len(durations)),
		P50:   sorted[len(sorted)*50/100],
		P95:   sorted[len(sorted)*95/100],
		P99:   sorted[len(sorted)*99/100],
		Count: len(durations),
	}
}

// Print formats latency statistics under a title.
func (s LatencyStats) Print(w io.Writer, title string) {
	fmt.Fprintf(w, "%s:\n", title)
	fmt.Fprintf(w, "  Count:         %d\n", s.Count)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
