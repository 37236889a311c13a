package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadCreatesDefaults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "wavhaven")
	m := NewManager(dir)

	if err := m.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, FileName)); err != nil {
		t.Fatalf("Expected config file to be written: %v", err)
	}

	cfg := m.Get()
	if cfg.Analysis.FrameSize != 4096 || cfg.Analysis.HopSize != 1024 {
		t.Errorf("Unexpected framing %d/%d", cfg.Analysis.FrameSize, cfg.Analysis.HopSize)
	}
	if cfg.Analysis.LowPassCutoffHz != 800 {
		t.Errorf("Expected 800 Hz cutoff, got %v", cfg.Analysis.LowPassCutoffHz)
	}
}

func TestLoadMergesWithDefaults(t *testing.T) {
	dir := t.TempDir()
	yaml := `
analysis:
  minBPM: 60
  maxBPM: 200
worker:
  maxWorkers: 3
store:
  dataDir: /var/lib/wavhaven
`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(yaml), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	m := NewManager(dir)
	if err := m.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg := m.Get()
	if cfg.Analysis.MinBPM != 60 || cfg.Analysis.MaxBPM != 200 {
		t.Errorf("Expected bpm range 60-200, got %v-%v", cfg.Analysis.MinBPM, cfg.Analysis.MaxBPM)
	}
	if cfg.Analysis.FrameSize != 4096 {
		t.Errorf("Expected default frame size to survive, got %d", cfg.Analysis.FrameSize)
	}
	if cfg.Worker.MaxWorkers != 3 {
		t.Errorf("Expected 3 workers, got %d", cfg.Worker.MaxWorkers)
	}
	if cfg.Store.DataDir != "/var/lib/wavhaven" {
		t.Errorf("Unexpected data dir %q", cfg.Store.DataDir)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"malformed", "analysis: [", "failed to parse config"},
		{"frame size", "analysis:\n  frameSize: 1000\n", "frameSize"},
		{"narrow bpm range", "analysis:\n  minBPM: 100\n  maxBPM: 150\n", "octave"},
		{"negative weight", "similarity:\n  key: -1\n", "similarity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, FileName), []byte(tt.yaml), 0600); err != nil {
				t.Fatalf("Failed to write config: %v", err)
			}
			err := NewManager(dir).Load()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestUpdateAndReload(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	if err := m.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg := m.Get()
	cfg.Server.SocketPath = "/tmp/wavhaven.sock"
	if err := m.Update(cfg); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := m.AddLibraryPath("/music"); err != nil {
		t.Fatalf("AddLibraryPath failed: %v", err)
	}
	if err := m.AddLibraryPath("/music"); err != nil {
		t.Fatalf("AddLibraryPath failed: %v", err)
	}

	reloaded := NewManager(dir)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	got := reloaded.Get()
	if got.Server.SocketPath != "/tmp/wavhaven.sock" {
		t.Errorf("Expected socket path to persist, got %q", got.Server.SocketPath)
	}
	if len(got.Library.Paths) != 1 || got.Library.Paths[0] != "/music" {
		t.Errorf("Expected one library path, got %v", got.Library.Paths)
	}

	if err := reloaded.RemoveLibraryPath("/music"); err != nil {
		t.Fatalf("RemoveLibraryPath failed: %v", err)
	}
	if paths := reloaded.Get().Library.Paths; len(paths) != 0 {
		t.Errorf("Expected no library paths, got %v", paths)
	}

	bad := reloaded.Get()
	bad.Analysis.HopSize = 0
	if err := reloaded.Update(bad); err == nil {
		t.Error("Expected Update to reject an invalid config")
	}
}
