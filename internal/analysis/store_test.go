package analysis

import (
	"errors"
	"testing"
)

func newTestStore(t *testing.T) *ResultStore {
	t.Helper()
	store, err := OpenResultStore("")
	if err != nil {
		t.Fatalf("OpenResultStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testResult(bpm int, key string, level EnergyLevel, genres ...string) *Result {
	return &Result{
		BPM:         ptr(bpm),
		Key:         ptr(key),
		EnergyLevel: ptr(level),
		Genres:      genres,
		Source:      SourceEstimated,
	}
}

func TestResultStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Put("abc", "track.wav", testResult(128, "A minor", EnergyHigh, "edm")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	stored, err := store.Get("abc")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.ContentKey != "abc" || stored.Filename != "track.wav" {
		t.Errorf("Unexpected metadata: %+v", stored)
	}
	if stored.Version != ResultVersion {
		t.Errorf("Expected version %d, got %d", ResultVersion, stored.Version)
	}
	if stored.Result.BPM == nil || *stored.Result.BPM != 128 {
		t.Errorf("Expected bpm 128, got %v", stored.Result.BPM)
	}
	if stored.AnalyzedAt == 0 {
		t.Error("Expected AnalyzedAt to be set")
	}

	if !store.Has("abc", ResultVersion) {
		t.Error("Expected Has for current version")
	}
	if store.Has("abc", ResultVersion+1) {
		t.Error("Expected Has to reject newer version")
	}
}

func TestResultStoreNotFound(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if store.Has("missing", 0) {
		t.Error("Expected Has to be false")
	}
}

func TestResultStoreListAndDelete(t *testing.T) {
	store := newTestStore(t)

	for _, id := range []string{"a", "b", "c"} {
		if _, err := store.Put(id, id+".wav", testResult(120, "C major", EnergyMedium)); err != nil {
			t.Fatalf("Put %s failed: %v", id, err)
		}
	}

	all, err := store.All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Expected 3 results, got %d", len(all))
	}

	if err := store.Delete("b"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	n, err := store.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 results after delete, got %d", n)
	}
	if stats := store.Stats(); stats.Results != 2 || stats.Version != ResultVersion {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestContentKey(t *testing.T) {
	data := []byte("RIFF....WAVE")
	base := ContentKey(data, "a.wav", false)

	if len(base) != 16 {
		t.Errorf("Expected 16 hex digits, got %q", base)
	}
	if ContentKey(data, "a.wav", false) != base {
		t.Error("Expected a stable key")
	}

	tests := []struct {
		name     string
		data     []byte
		filename string
		lowPass  bool
	}{
		{"different data", []byte("RIFF....WAVF"), "a.wav", false},
		{"different filename", data, "b.wav", false},
		{"filter flag", data, "a.wav", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if ContentKey(tt.data, tt.filename, tt.lowPass) == base {
				t.Error("Expected a different key")
			}
		})
	}
}
