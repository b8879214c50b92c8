package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "panel.cfg")
	if err := os.WriteFile(path, []byte("[axiscope_panel]\nlog_level: info\n"), 0644); err != nil {
		t.Fatal(err)
	}
	initial, err := LoadPanelConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	changes := make(chan PanelConfig, 4)
	w, err := NewWatcher(path, initial, func(prev, next PanelConfig) {
		changes <- next
	})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()
	w.SetDebounce(20 * time.Millisecond)
	w.Start()

	if err := os.WriteFile(path, []byte("[axiscope_panel]\nlog_level: debug\nz_feedrate: 900\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case next := <-changes:
		if next.LogLevel != "debug" || next.ZFeedrate != 900 {
			t.Errorf("unexpected reloaded config %+v", next)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	if got := w.Current(); got.LogLevel != "debug" {
		t.Errorf("Current().LogLevel = %q", got.LogLevel)
	}
}

func TestWatcherKeepsConfigOnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "panel.cfg")
	os.WriteFile(path, []byte("[axiscope_panel]\n"), 0644)
	initial, _ := LoadPanelConfig(path)

	errs := make(chan error, 4)
	w, err := NewWatcher(path, initial, func(prev, next PanelConfig) {
		t.Errorf("unexpected change callback")
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	w.SetDebounce(20 * time.Millisecond)
	w.OnError(func(err error) { errs <- err })
	w.Start()

	os.WriteFile(path, []byte("[axiscope_panel]\npoll_interval: -1\n"), 0644)

	select {
	case <-errs:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload error")
	}
	if w.Current().PollInterval != initial.PollInterval {
		t.Error("expected previous config to stay active")
	}
}

func TestWatcherAppliesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "panel.cfg")
	os.WriteFile(path, []byte("[axiscope_panel]\nprinter_url: voron.local/\nlisten: :8080\n"), 0644)

	override := func(pc *PanelConfig) {
		pc.PrinterURL = "http://127.0.0.1:7125"
		pc.Listen = ":9000"
	}
	initial, _ := LoadPanelConfig(path)
	override(&initial)

	type change struct{ prev, next PanelConfig }
	changes := make(chan change, 4)
	w, err := NewWatcher(path, initial, func(prev, next PanelConfig) {
		changes <- change{prev, next}
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	w.SetDebounce(20 * time.Millisecond)
	w.SetOverrides(override)
	w.Start()

	os.WriteFile(path, []byte("[axiscope_panel]\nprinter_url: voron.local/\nlisten: :8080\nxy_feedrate: 6000\n"), 0644)

	select {
	case c := <-changes:
		reloadable, restart := c.prev.Diff(c.next)
		if len(restart) != 0 {
			t.Errorf("overridden options reported as changed: %v", restart)
		}
		if len(reloadable) != 1 || reloadable[0] != "xy_feedrate" {
			t.Errorf("unexpected reloadable options %v", reloadable)
		}
		if c.next.PrinterURL != "http://127.0.0.1:7125" {
			t.Errorf("override lost: %q", c.next.PrinterURL)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatcherCloseIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "panel.cfg")
	os.WriteFile(path, []byte(""), 0644)

	w, err := NewWatcher(path, DefaultPanelConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	w.Start()
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}
