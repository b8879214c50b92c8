package panel

import (
	"context"
	"sync"
	"testing"
	"time"

	"axiscope-panel/pkg/moonraker/moonrakertest"
)

func TestPollBeforeLoadRefreshes(t *testing.T) {
	p, fake := newTestPanel(t, moonrakertest.DefaultConfig())
	rec := listen(t, p)

	fake.FailPath("/printer/objects/query", 503, "Klippy not ready")
	p.Poller().Poll(context.Background())
	if p.State().Loaded() {
		t.Fatal("state loaded while firmware is down")
	}

	fake.FailPath("/printer/objects/query", 0, "")
	p.Poller().Poll(context.Background())
	if !p.State().Loaded() {
		t.Fatal("poll did not retry the refresh")
	}
	waitFor(t, "tools_changed", func() bool { return rec.count(EventToolsChanged) == 1 })
}

func TestPollPushesProbeResults(t *testing.T) {
	p, fake := loadedPanel(t)
	rec := listen(t, p)

	fake.SetProbeResult(1, 1.801, 0.059)
	p.Poller().Poll(context.Background())

	waitFor(t, "probe_results", func() bool { return rec.count(EventProbeResults) == 1 })
	n, _ := rec.last(EventProbeResults)
	probes, ok := n.Params[0].([]any)
	if !ok || len(probes) != 1 {
		t.Fatalf("unexpected params %+v", n.Params)
	}
	entry := probes[0].(map[string]any)
	if entry["tool"] != float64(1) || entry["z_offset"] != 0.059 {
		t.Errorf("unexpected probe %+v", entry)
	}
	if rec.count(EventToolsChanged) != 0 {
		t.Error("unchanged tool announced a tools change")
	}
}

func TestPollDetectsToolChange(t *testing.T) {
	p, fake := loadedPanel(t)
	rec := listen(t, p)

	fake.SetActiveTool(3)
	p.Poller().Poll(context.Background())

	waitFor(t, "tools_changed", func() bool { return rec.count(EventToolsChanged) == 1 })
	if p.State().Active() != 3 {
		t.Errorf("expected T3 active, got T%d", p.State().Active())
	}
	v := p.State().View()
	if !v.Tools[3].IsActive || v.Tools[0].IsActive {
		t.Error("view did not follow the mounted tool")
	}
}

func TestPollerLoop(t *testing.T) {
	p, fake := newTestPanel(t, moonrakertest.DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.Start(ctx)
	p.Start(ctx)
	waitFor(t, "first load", p.State().Loaded)

	fake.SetActiveTool(1)
	waitFor(t, "active change", func() bool { return p.State().Active() == 1 })

	p.Poller().SetInterval(10 * time.Millisecond)
	if got := p.Poller().Interval(); got != 10*time.Millisecond {
		t.Errorf("interval %v", got)
	}
	p.Poller().SetInterval(0)
	if got := p.Poller().Interval(); got != 10*time.Millisecond {
		t.Errorf("zero interval should be ignored, got %v", got)
	}
	p.Poller().Stop()
	p.Poller().Stop()

	n := len(fake.Queries())
	time.Sleep(50 * time.Millisecond)
	if len(fake.Queries()) != n {
		t.Error("poller kept running after Stop")
	}
}

func TestPollerStopWithoutStart(t *testing.T) {
	p, fake := newTestPanel(t, moonrakertest.DefaultConfig())
	done := make(chan struct{})
	go func() {
		p.Poller().Stop()
		p.Poller().Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked without Start")
	}
	if p.Poller().Interval() != 20*time.Millisecond {
		t.Errorf("unexpected interval %v", p.Poller().Interval())
	}

	// A stopped poller never starts.
	p.Start(context.Background())
	time.Sleep(60 * time.Millisecond)
	if n := len(fake.Queries()); n != 0 {
		t.Errorf("poller ran after Stop: %d queries", n)
	}
	p.Poller().Stop()
}

func TestPollerSetIntervalWhileIdle(t *testing.T) {
	p, _ := newTestPanel(t, moonrakertest.DefaultConfig())
	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for i := 1; i <= 8; i++ {
			wg.Add(1)
			go func(d time.Duration) {
				defer wg.Done()
				p.Poller().SetInterval(d)
			}(time.Duration(i) * time.Millisecond)
		}
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SetInterval blocked while the loop was not running")
	}
	if got := p.Poller().Interval(); got < time.Millisecond || got > 8*time.Millisecond {
		t.Errorf("unexpected interval %v", got)
	}
}
