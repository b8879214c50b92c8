// Package panel serves the toolchanger offset panel: it keeps the
// operator state, talks to the firmware, renders the tool list and pushes
// live updates.
package panel

import (
	"context"
	"sync"
	"time"

	"axiscope-panel/pkg/log"
	"axiscope-panel/pkg/metrics"
	"axiscope-panel/pkg/moonraker"
	"axiscope-panel/pkg/offsets"
)

// Firmware is the part of the firmware API the panel uses.
// *moonraker.Client implements it.
type Firmware interface {
	Toolchanger(ctx context.Context) (moonraker.Toolchanger, error)
	ToolOffsets(ctx context.Context, names []string) (map[string]offsets.Pair, error)
	Axiscope(ctx context.Context) (moonraker.AxiscopeStatus, error)
	ActiveTool(ctx context.Context) (int, error)
	ToolheadPosition(ctx context.Context) (offsets.Position, error)
	RunScript(ctx context.Context, lines ...string) error
	Ping(ctx context.Context) error
}

// Options configures a Panel.
type Options struct {
	Feeds          offsets.Feeds
	PollInterval   time.Duration
	CommandTimeout time.Duration
	Metrics        *metrics.PanelMetrics
	Logger         *log.Logger
}

// Panel ties the state to the firmware.
type Panel struct {
	fw      Firmware
	state   *State
	hub     *Hub
	metrics *metrics.PanelMetrics
	logger  *log.Logger

	mu             sync.RWMutex
	feeds          offsets.Feeds
	commandTimeout time.Duration

	poller *Poller

	// wg tracks async commands.
	wg       sync.WaitGroup
	baseCtx  context.Context
	cancel   context.CancelFunc
	closeOne sync.Once
}

// New creates a panel for fw.
func New(fw Firmware, opts Options) *Panel {
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewPanelMetrics()
	}
	if opts.Logger == nil {
		opts.Logger = log.GetLogger("panel")
	}
	if opts.Feeds.Z <= 0 || opts.Feeds.XY <= 0 {
		opts.Feeds = offsets.DefaultFeeds()
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 10 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Panel{
		fw:             fw,
		state:          NewState(),
		hub:            NewHub(opts.Metrics.WSClients),
		metrics:        opts.Metrics,
		logger:         opts.Logger,
		feeds:          opts.Feeds,
		commandTimeout: opts.CommandTimeout,
		baseCtx:        ctx,
		cancel:         cancel,
	}
	p.poller = newPoller(p, opts.PollInterval)
	return p
}

// State returns the panel state.
func (p *Panel) State() *State { return p.state }

// Hub returns the live-update hub.
func (p *Panel) Hub() *Hub { return p.hub }

// Metrics returns the panel metrics.
func (p *Panel) Metrics() *metrics.PanelMetrics { return p.metrics }

// Poller returns the probe-result poller.
func (p *Panel) Poller() *Poller { return p.poller }

// SetFeeds changes the tool-change feed rates.
func (p *Panel) SetFeeds(f offsets.Feeds) {
	p.mu.Lock()
	p.feeds = f
	p.mu.Unlock()
}

// Feeds returns the tool-change feed rates.
func (p *Panel) Feeds() offsets.Feeds {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.feeds
}

// Start runs the poller until ctx is done or the panel is closed.
func (p *Panel) Start(ctx context.Context) {
	p.poller.Start(ctx)
}

// Close stops the poller, waits for pending commands and disconnects
// live clients.
func (p *Panel) Close() {
	p.closeOne.Do(func() {
		p.poller.Stop()
		p.wg.Wait()
		p.cancel()
		p.hub.Close()
	})
}

// FetchSnapshot reads the tool list, tool offsets and axiscope status.
// A failed axiscope query only marks axiscope absent.
func FetchSnapshot(ctx context.Context, fw Firmware) (Snapshot, error) {
	tc, err := fw.Toolchanger(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	offs, err := fw.ToolOffsets(ctx, tc.ToolNames)
	if err != nil {
		return Snapshot{}, err
	}
	as, err := fw.Axiscope(ctx)
	if err != nil {
		as = moonraker.AxiscopeStatus{}
	}

	snap := Snapshot{Active: tc.ActiveTool, Axiscope: as}
	for i, n := range tc.ToolNumbers {
		name := tc.ToolNames[i]
		snap.Tools = append(snap.Tools, Tool{Number: n, Name: name, Current: offs[name]})
	}
	return snap, nil
}

// Refresh fetches a snapshot and installs it unless a newer refresh got
// there first.
func (p *Panel) Refresh(ctx context.Context) error {
	seq := p.state.BeginRefresh()

	snap, err := FetchSnapshot(ctx, p.fw)
	if err != nil {
		p.logger.WithError(err).Warn("tool refresh failed")
		return err
	}
	if !snap.Axiscope.Present {
		p.logger.Debug("axiscope status unavailable")
	}

	if !p.state.ApplyRefresh(seq, snap) {
		p.metrics.RefreshDropped.Inc(nil)
		p.logger.WithField("seq", seq).Debug("stale refresh dropped")
		return nil
	}
	p.metrics.SetTools(len(snap.Tools))
	return nil
}

// Capture stores the live toolhead position while the reference tool
// is mounted.
func (p *Panel) Capture(ctx context.Context) error {
	if err := p.state.CanCapture(); err != nil {
		return err
	}
	pos, err := p.fw.ToolheadPosition(ctx)
	if err != nil {
		return err
	}
	if err := p.state.Capture(pos); err != nil {
		return err
	}
	p.logger.WithFields(log.Fields{"x": pos.X, "y": pos.Y, "z": pos.Z}).Info("reference position captured")
	return nil
}

// FetchAxis copies one axis of the live toolhead position into the
// override of the mounted tool.
func (p *Panel) FetchAxis(ctx context.Context, tool int, axis offsets.Axis) error {
	if err := p.state.CanFetch(tool); err != nil {
		return err
	}
	pos, err := p.fw.ToolheadPosition(ctx)
	if err != nil {
		return err
	}
	return p.state.SetOverride(tool, axis, pos.Get(axis))
}

// Calibrate starts the Z calibration for the current selection.
func (p *Panel) Calibrate() (CommandResult, error) {
	cmd, err := p.state.CalibrationCommand()
	if err != nil {
		return CommandResult{}, err
	}
	return p.submit(KindCalibrate, []string{cmd}, nil), nil
}

// ToolChange starts a change to tool n and refreshes the tool list once
// it completes.
func (p *Panel) ToolChange(n int) (CommandResult, error) {
	tc, err := p.state.ToolChange(n, p.Feeds())
	if err != nil {
		return CommandResult{}, err
	}
	return p.submit(KindToolChange, tc.Script(), func(ctx context.Context) {
		if err := p.Refresh(ctx); err == nil {
			p.hub.Broadcast(EventToolsChanged)
		}
	}), nil
}

// Ping checks the firmware connection.
func (p *Panel) Ping(ctx context.Context) error {
	return p.fw.Ping(ctx)
}
