package panel

import (
	"context"
	"sync"
	"time"

	"axiscope-panel/pkg/log"
)

// DefaultPollInterval is the probe-result poll period.
const DefaultPollInterval = 2 * time.Second

// Poller periodically reads probe results and the active tool. It
// pushes probe results to live clients and, when the mounted tool
// changes, refreshes the tool list and announces it. Until a first
// refresh succeeds it retries the refresh instead.
type Poller struct {
	panel  *Panel
	logger *log.Logger

	once     sync.Once
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	reset    chan struct{}

	mu       sync.Mutex
	interval time.Duration
	started  bool
}

func newPoller(p *Panel, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		panel:    p,
		logger:   log.GetLogger("poller"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		reset:    make(chan struct{}, 1),
		interval: interval,
	}
}

// Start launches the poll loop. Later calls do nothing.
func (pl *Poller) Start(ctx context.Context) {
	pl.once.Do(func() {
		pl.mu.Lock()
		pl.started = true
		pl.mu.Unlock()
		go pl.run(ctx)
	})
}

// Stop ends the loop and waits for it. It is safe to call without Start
// and more than once.
func (pl *Poller) Stop() {
	pl.stopOnce.Do(func() { close(pl.stop) })
	pl.mu.Lock()
	started := pl.started
	pl.mu.Unlock()
	if started {
		<-pl.done
	}
}

// Interval returns the poll period.
func (pl *Poller) Interval() time.Duration {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return pl.interval
}

// SetInterval changes the poll period of a running loop.
func (pl *Poller) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	pl.mu.Lock()
	pl.interval = d
	pl.mu.Unlock()
	select {
	case pl.reset <- struct{}{}:
	default:
		// a pending reset reads the new interval
	}
}

func (pl *Poller) run(ctx context.Context) {
	defer close(pl.done)

	ticker := time.NewTicker(pl.Interval())
	defer ticker.Stop()

	pl.logger.WithField("interval", pl.Interval()).Debug("poller started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-pl.stop:
			return
		case <-pl.reset:
			ticker.Reset(pl.Interval())
		case <-ticker.C:
			pl.Poll(ctx)
		}
	}
}

// Poll runs one poll cycle.
func (pl *Poller) Poll(ctx context.Context) {
	p := pl.panel
	pctx, cancel := context.WithTimeout(ctx, max(2*pl.Interval(), time.Second))
	defer cancel()

	if !p.state.Loaded() {
		if err := p.Refresh(pctx); err == nil {
			p.hub.Broadcast(EventToolsChanged)
		}
		return
	}

	as, err := p.fw.Axiscope(pctx)
	if err != nil {
		pl.logger.WithError(err).Debug("probe poll failed")
		return
	}
	active, err := p.fw.ActiveTool(pctx)
	if err != nil {
		pl.logger.WithError(err).Debug("active tool poll failed")
		return
	}

	if p.state.ApplyPoll(as, active) {
		pl.logger.WithField("active", active).Info("active tool changed")
		if err := p.Refresh(pctx); err == nil {
			p.hub.Broadcast(EventToolsChanged)
		}
	}
	p.hub.Broadcast(EventProbeResults, p.state.Probes())
}
