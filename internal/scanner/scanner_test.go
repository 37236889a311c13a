package scanner

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func writeFiles(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			t.Fatalf("Failed to create dir: %v", err)
		}
		if err := os.WriteFile(path, []byte("not really audio"), 0600); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
}

func TestScanPaths(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a.wav", "b.MP3", "notes.txt", ".hidden/c.wav", "sub/d.flac", "sub/e.aif")

	s := NewScanner(false)
	results, err := s.ScanPaths(context.Background(), []string{root, filepath.Join(root, "a.wav")})
	if err != nil {
		t.Fatalf("ScanPaths failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}

	var got []string
	for _, f := range results[0].Files {
		rel, _ := filepath.Rel(root, f.Path)
		got = append(got, rel)
	}
	sort.Strings(got)
	want := []string{"a.wav", "b.MP3", filepath.Join("sub", "d.flac"), filepath.Join("sub", "e.aif")}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, got)
			break
		}
	}
	if results[0].TotalFiles != 4 {
		t.Errorf("Expected 4 files, got %d", results[0].TotalFiles)
	}

	if results[1].Error != "path is not a directory" {
		t.Errorf("Expected not-a-directory error, got %q", results[1].Error)
	}
	if status := s.GetStatus(); status.Status != "complete" || s.IsRunning() {
		t.Errorf("Unexpected status after scan: %+v", status)
	}
}

func TestScanPathsReadsTags(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "Night Drive.wav")

	results, err := NewScanner(true).ScanPaths(context.Background(), []string{root})
	if err != nil {
		t.Fatalf("ScanPaths failed: %v", err)
	}
	files := results[0].Files
	if len(files) != 1 || files[0].Metadata == nil {
		t.Fatalf("Expected one file with metadata, got %+v", files)
	}
	if files[0].Metadata.Title != "Night Drive" {
		t.Errorf("Expected title from filename, got %q", files[0].Metadata.Title)
	}
}

func TestScanPathsCancelled(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a.wav")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewScanner(false).ScanPaths(ctx, []string{root})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestScanPathsStreaming(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a.wav", "b.ogg", "c.txt")

	results := make(chan FileInfo, 10)
	if err := NewScanner(false).ScanPathsStreaming(context.Background(), []string{root, "/does/not/exist"}, results); err != nil {
		t.Fatalf("ScanPathsStreaming failed: %v", err)
	}

	var n int
	for range results {
		n++
	}
	if n != 2 {
		t.Errorf("Expected 2 files, got %d", n)
	}
}

func TestIsAudioFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"track.wav", true},
		{"track.WAV", true},
		{"track.aiff", true},
		{"track.m4a", true},
		{"track.txt", false},
		{"wav", false},
	}
	for _, tt := range tests {
		if got := IsAudioFile(tt.path); got != tt.want {
			t.Errorf("IsAudioFile(%q): expected %v, got %v", tt.path, tt.want, got)
		}
	}
}

// id3v23 builds a minimal ID3v2.3 tag holding the given text frames
func id3v23(frames map[string]string) []byte {
	var body bytes.Buffer
	names := make([]string, 0, len(frames))
	for name := range frames {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		data := append([]byte{0}, frames[name]...)
		body.WriteString(name)
		binary.Write(&body, binary.BigEndian, uint32(len(data)))
		body.Write([]byte{0, 0})
		body.Write(data)
	}

	size := body.Len()
	header := []byte{'I', 'D', '3', 3, 0, 0,
		byte(size>>21&0x7f), byte(size>>14&0x7f), byte(size>>7&0x7f), byte(size&0x7f)}
	return append(header, body.Bytes()...)
}

func TestReadTagsID3(t *testing.T) {
	data := id3v23(map[string]string{
		"TIT2": "Dreamscape",
		"TPE1": "Wavhaven",
		"TBPM": "140",
		"TKEY": "Fm",
	})

	meta, err := ReadTags(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ReadTags failed: %v", err)
	}
	if meta.Title != "Dreamscape" || meta.Artist != "Wavhaven" {
		t.Errorf("Unexpected title/artist %q/%q", meta.Title, meta.Artist)
	}
	if meta.BPM != "140" {
		t.Errorf("Expected bpm 140, got %q", meta.BPM)
	}
	if meta.Key != "Fm" {
		t.Errorf("Expected key Fm, got %q", meta.Key)
	}
}

func TestFirstRaw(t *testing.T) {
	raw := map[string]interface{}{
		"tmpo":       128,
		"initialkey": " Am\x00",
	}
	if got := firstRaw(raw, bpmTagNames); got != "128" {
		t.Errorf("Expected 128, got %q", got)
	}
	if got := firstRaw(raw, keyTagNames); got != "Am" {
		t.Errorf("Expected Am, got %q", got)
	}
	if got := firstRaw(map[string]interface{}{}, bpmTagNames); got != "" {
		t.Errorf("Expected empty, got %q", got)
	}
}
