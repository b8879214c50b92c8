package panel

import (
	"context"
	"encoding/json"
	"math"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"axiscope-panel/pkg/errors"
	"axiscope-panel/pkg/moonraker"
	"axiscope-panel/pkg/moonraker/moonrakertest"
	"axiscope-panel/pkg/offsets"
)

func newTestPanel(t *testing.T, cfg moonrakertest.Config) (*Panel, *moonrakertest.Server) {
	t.Helper()
	fake := moonrakertest.New(cfg)
	ts := httptest.NewServer(fake)
	t.Cleanup(ts.Close)

	client, err := moonraker.NewClient(ts.URL, moonraker.WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	p := New(client, Options{PollInterval: 20 * time.Millisecond, CommandTimeout: 5 * time.Second})
	t.Cleanup(p.Close)
	return p, fake
}

func loadedPanel(t *testing.T) (*Panel, *moonrakertest.Server) {
	t.Helper()
	p, fake := newTestPanel(t, moonrakertest.DefaultConfig())
	if err := p.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	return p, fake
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// recorder is a fake live client that keeps every notification.
type recorder struct {
	mu   sync.Mutex
	msgs []Notification
}

func (r *recorder) Send(msg any) {
	n, ok := msg.(Notification)
	if !ok {
		return
	}
	r.mu.Lock()
	r.msgs = append(r.msgs, n)
	r.mu.Unlock()
}

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if m.Method == "notify_"+event {
			n++
		}
	}
	return n
}

func (r *recorder) last(event string) (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.msgs) - 1; i >= 0; i-- {
		if r.msgs[i].Method == "notify_"+event {
			return r.msgs[i], true
		}
	}
	return Notification{}, false
}

// listen subscribes a recorder to the hub through a live websocket.
func listen(t *testing.T, p *Panel) *recorder {
	t.Helper()
	rec := &recorder{}
	conn := dialHub(t, p)
	go func() {
		for {
			var n Notification
			if err := conn.ReadJSON(&n); err != nil {
				return
			}
			rec.Send(n)
		}
	}()
	return rec
}

func TestRefreshLoadsTools(t *testing.T) {
	p, _ := loadedPanel(t)

	v := p.State().View()
	if !v.Loaded || len(v.Tools) != 4 {
		t.Fatalf("expected 4 tools, got %+v", v.Tools)
	}
	if v.Active != 0 || v.Reference != 0 || !v.Axiscope {
		t.Errorf("unexpected view header %+v", v)
	}
	if got := v.Tools[1].Current; got != (offsets.Pair{X: 0.125, Y: -0.25}) {
		t.Errorf("unexpected T1 offsets %+v", got)
	}
	if v.ConfigMethod != "median" {
		t.Errorf("expected config method median, got %q", v.ConfigMethod)
	}
	if got := p.Metrics().Tools.Get(nil); got != 4 {
		t.Errorf("expected tools gauge 4, got %v", got)
	}
}

func TestRefreshWithoutAxiscope(t *testing.T) {
	cfg := moonrakertest.DefaultConfig()
	cfg.Axiscope = false
	p, _ := newTestPanel(t, cfg)
	if err := p.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if p.State().View().Axiscope {
		t.Error("axiscope should be absent")
	}
	if _, err := p.Calibrate(); !errors.Is(err, errors.ErrNoAxiscope) {
		t.Errorf("expected no axiscope, got %v", err)
	}
}

func TestFetchSnapshot(t *testing.T) {
	cfg := moonrakertest.DefaultConfig()
	cfg.Axiscope = false
	cfg.ActiveTool = 2
	p, _ := newTestPanel(t, cfg)

	snap, err := FetchSnapshot(context.Background(), p.fw)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Active != 2 || snap.Axiscope.Present || len(snap.Tools) != 4 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	t1 := snap.Tools[1]
	if t1.Number != 1 || t1.Name != "tool T1" || t1.Current != (offsets.Pair{X: 0.125, Y: -0.25}) {
		t.Errorf("unexpected T1 %+v", t1)
	}
	if p.State().Loaded() {
		t.Error("FetchSnapshot must not install the snapshot")
	}
}

func TestRefreshFirmwareDown(t *testing.T) {
	p, fake := newTestPanel(t, moonrakertest.DefaultConfig())
	fake.FailPath("/printer/objects/query", 503, "Klippy not ready")

	err := p.Refresh(context.Background())
	if !errors.Is(err, errors.ErrFirmwareStatus) {
		t.Fatalf("expected firmware status error, got %v", err)
	}
	if p.State().Loaded() {
		t.Error("failed refresh marked state loaded")
	}
}

func TestStaleRefreshIsDropped(t *testing.T) {
	p, fake := newTestPanel(t, moonrakertest.DefaultConfig())

	blocked := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	fake.OnQuery(func([]string) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(blocked)
			<-release
		}
	})

	first := make(chan error, 1)
	go func() { first <- p.Refresh(context.Background()) }()
	<-blocked

	fake.SetActiveTool(2)
	if err := p.Refresh(context.Background()); err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
	close(release)
	if err := <-first; err != nil {
		t.Fatalf("first Refresh: %v", err)
	}

	if got := p.Metrics().RefreshDropped.Get(nil); got != 1 {
		t.Errorf("expected 1 dropped refresh, got %d", got)
	}
	if p.State().Active() != 2 {
		t.Errorf("expected active T2, got T%d", p.State().Active())
	}
}

func TestCaptureAndFetchAxis(t *testing.T) {
	p, fake := loadedPanel(t)
	ctx := context.Background()

	if err := p.FetchAxis(ctx, 1, offsets.AxisX); !errors.Is(err, errors.ErrToolNotActive) {
		t.Fatalf("expected tool not active, got %v", err)
	}
	if err := p.Capture(ctx); err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if got := p.State().Captured(); got == nil || *got != fake.Position() {
		t.Errorf("captured %+v, want %+v", got, fake.Position())
	}

	fake.SetActiveTool(1)
	fake.SetPosition(offsets.Position{X: 149.5, Y: 150.25, Z: 10})
	if err := p.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if err := p.Capture(ctx); !errors.Is(err, errors.ErrNotCapturable) {
		t.Errorf("expected not capturable, got %v", err)
	}
	if err := p.FetchAxis(ctx, 1, offsets.AxisX); err != nil {
		t.Fatalf("FetchAxis x: %v", err)
	}
	if err := p.FetchAxis(ctx, 1, offsets.AxisY); err != nil {
		t.Fatalf("FetchAxis y: %v", err)
	}
	if got := p.State().Override(1); got != (offsets.Pair{X: 149.5, Y: 150.25}) {
		t.Errorf("unexpected override %+v", got)
	}
}

func TestCalibrateRunsInBackground(t *testing.T) {
	p, fake := loadedPanel(t)
	rec := listen(t, p)

	p.State().SetZCalc(offsets.ZCalcAverage)
	res, err := p.Calibrate()
	if err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if res.ID == "" || res.Done || res.Kind != KindCalibrate {
		t.Errorf("unexpected submission %+v", res)
	}
	if want := "CALIBRATE_ALL_Z_OFFSETS TOOLS=0,1,2,3 Z_CALC=average REF=0"; res.Script != want {
		t.Errorf("script %q, want %q", res.Script, want)
	}

	waitFor(t, "command result", func() bool { return rec.count(EventCommandResult) == 1 })
	n, _ := rec.last(EventCommandResult)
	var done CommandResult
	raw, _ := json.Marshal(n.Params[0])
	if err := json.Unmarshal(raw, &done); err != nil {
		t.Fatal(err)
	}
	if done.ID != res.ID || !done.Done || done.Error != "" {
		t.Errorf("unexpected result %+v", done)
	}

	off, ok := fake.ProbeOffset(1)
	if !ok || math.Abs(off-0.059) > 1e-9 {
		t.Errorf("expected T1 z offset 0.059, got %v (probed %v)", off, ok)
	}
	if got := p.Metrics().Commands.Get(map[string]string{"kind": KindCalibrate, "result": "ok"}); got != 1 {
		t.Errorf("expected 1 ok calibrate, got %d", got)
	}
}

func TestToolChangeRefreshesAfterCompletion(t *testing.T) {
	p, fake := loadedPanel(t)
	rec := listen(t, p)

	if err := p.Capture(context.Background()); err != nil {
		t.Fatal(err)
	}
	res, err := p.ToolChange(2)
	if err != nil {
		t.Fatalf("ToolChange: %v", err)
	}
	lines := strings.Split(res.Script, "\n")
	if len(lines) != 8 || lines[1] != "T2" {
		t.Errorf("unexpected script %q", res.Script)
	}

	waitFor(t, "tools_changed", func() bool { return rec.count(EventToolsChanged) >= 1 })
	if fake.ActiveTool() != 2 || p.State().Active() != 2 {
		t.Errorf("expected T2 mounted, firmware T%d panel T%d", fake.ActiveTool(), p.State().Active())
	}
	if got := fake.Position(); got != (offsets.Position{X: 150, Y: 150, Z: 10}) {
		t.Errorf("tool did not return to capture, at %+v", got)
	}
}

func TestToolChangeFailureIsReported(t *testing.T) {
	p, fake := loadedPanel(t)
	rec := listen(t, p)
	fake.FailPath("/printer/gcode/script", 400, "Must home axis first")

	if _, err := p.ToolChange(1); err != nil {
		t.Fatalf("ToolChange: %v", err)
	}
	waitFor(t, "command result", func() bool { return rec.count(EventCommandResult) == 1 })
	n, _ := rec.last(EventCommandResult)
	res, _ := n.Params[0].(map[string]any)
	if msg, _ := res["error"].(string); !strings.Contains(msg, "Must home axis first") {
		t.Errorf("expected firmware message in result, got %v", res)
	}
	if rec.count(EventToolsChanged) != 0 {
		t.Error("failed tool change announced a tools change")
	}
	if p.State().Active() != 0 {
		t.Errorf("active tool changed to T%d", p.State().Active())
	}
}

func TestToolChangeRejectsUnknownTool(t *testing.T) {
	p, fake := loadedPanel(t)
	if _, err := p.ToolChange(9); !errors.Is(err, errors.ErrInvalidTool) {
		t.Errorf("expected invalid tool, got %v", err)
	}
	p.Close()
	if len(fake.Scripts()) != 0 {
		t.Errorf("unexpected scripts %v", fake.Scripts())
	}
}

func TestCloseWaitsForCommands(t *testing.T) {
	p, fake := loadedPanel(t)
	entered := make(chan struct{})
	var once sync.Once
	fake.OnScript(func(string) {
		once.Do(func() { close(entered) })
		time.Sleep(100 * time.Millisecond)
	})

	if _, err := p.Calibrate(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		t.Fatal("calibration never reached the firmware")
	}
	p.Close()

	if len(fake.Scripts()) != 1 {
		t.Errorf("expected the calibration to have run, got %v", fake.Scripts())
	}
	if _, ok := fake.ProbeOffset(1); !ok {
		t.Error("calibration was cut short by Close")
	}
	if got := p.Metrics().Commands.Get(map[string]string{"kind": KindCalibrate, "result": "ok"}); got != 1 {
		t.Errorf("expected 1 ok calibrate, got %d", got)
	}
	p.Close()
}

func TestSetFeeds(t *testing.T) {
	p, _ := newTestPanel(t, moonrakertest.DefaultConfig())
	if p.Feeds() != offsets.DefaultFeeds() {
		t.Errorf("expected default feeds, got %+v", p.Feeds())
	}
	p.SetFeeds(offsets.Feeds{Z: 600, XY: 6000})
	if p.Feeds() != (offsets.Feeds{Z: 600, XY: 6000}) {
		t.Errorf("feeds not updated: %+v", p.Feeds())
	}
}
