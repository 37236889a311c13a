// Package scanner provides library scanning functionality.
// It walks directories and finds audio files to analyze.
package scanner

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// SupportedExtensions are the audio file extensions we recognize
var SupportedExtensions = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".aiff": true,
	".aif":  true,
	".flac": true,
	".ogg":  true,
	".m4a":  true,
}

// IsAudioFile reports whether path has a supported extension
func IsAudioFile(path string) bool {
	return SupportedExtensions[strings.ToLower(filepath.Ext(path))]
}

// FileInfo represents basic info about an audio file
type FileInfo struct {
	Path       string         `json:"path"`
	Size       int64          `json:"size"`
	ModifiedAt int64          `json:"modifiedAt"` // Unix timestamp
	Metadata   *TrackMetadata `json:"metadata,omitempty"`
}

// ScanResult is the result of scanning one directory
type ScanResult struct {
	LibraryPath string     `json:"libraryPath"`
	Files       []FileInfo `json:"files"`
	TotalFiles  int        `json:"totalFiles"`
	ScanTimeMs  int64      `json:"scanTimeMs"`
	Error       string     `json:"error,omitempty"`
}

// ScanStatus represents the current scan state
type ScanStatus struct {
	Status   string `json:"status"`   // "idle", "scanning", "complete"
	Progress int    `json:"progress"` // 0-100
	Message  string `json:"message"`
}

// ErrScanRunning is returned when a scan is already in progress
var ErrScanRunning = errors.New("scan already in progress")

// Scanner handles directory scanning
type Scanner struct {
	mu         sync.Mutex
	isRunning  bool
	cancel     context.CancelFunc
	status     ScanStatus
	readTags   bool
	tagWorkers int
}

// NewScanner creates a new scanner. With readTags set, embedded tags are
// read for every file found.
func NewScanner(readTags bool) *Scanner {
	return &Scanner{
		status:     ScanStatus{Status: "idle"},
		readTags:   readTags,
		tagWorkers: 4,
	}
}

// GetStatus returns the current scan status
func (s *Scanner) GetStatus() ScanStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// IsRunning returns whether a scan is in progress
func (s *Scanner) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// Stop stops any running scan
func (s *Scanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Scanner) begin(ctx context.Context) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil, ErrScanRunning
	}
	s.isRunning = true
	s.status = ScanStatus{Status: "scanning", Message: "Starting scan..."}
	ctx, s.cancel = context.WithCancel(ctx)
	return ctx, nil
}

func (s *Scanner) end(status ScanStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.isRunning = false
	s.status = status
}

// ScanPaths scans the given directories for audio files
func (s *Scanner) ScanPaths(ctx context.Context, paths []string) ([]ScanResult, error) {
	ctx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]ScanResult, 0, len(paths))
	for i, path := range paths {
		if ctx.Err() != nil {
			s.end(ScanStatus{Status: "idle", Message: "Scan cancelled"})
			return results, ctx.Err()
		}

		s.mu.Lock()
		s.status = ScanStatus{Status: "scanning", Progress: (i * 100) / len(paths), Message: "Scanning: " + path}
		s.mu.Unlock()

		results = append(results, s.scanPath(ctx, path))
	}

	s.end(ScanStatus{Status: "complete", Progress: 100, Message: "Scan complete"})
	return results, ctx.Err()
}

// scanPath scans a single directory
func (s *Scanner) scanPath(ctx context.Context, libraryPath string) ScanResult {
	start := time.Now()
	result := ScanResult{
		LibraryPath: libraryPath,
		Files:       []FileInfo{},
	}

	info, err := os.Stat(libraryPath)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	if !info.IsDir() {
		result.Error = "path is not a directory"
		return result
	}

	var files []FileInfo
	err = walkAudio(ctx, libraryPath, func(fi FileInfo) error {
		files = append(files, fi)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		result.Error = err.Error()
	}

	if s.readTags && len(files) > 0 {
		s.readAllTags(ctx, files)
	}

	result.Files = files
	result.TotalFiles = len(files)
	result.ScanTimeMs = time.Since(start).Milliseconds()

	log.Printf("[SCANNER] Scanned %d files in %dms from %s", result.TotalFiles, result.ScanTimeMs, libraryPath)
	return result
}

// readAllTags fills in Metadata using a small worker pool
func (s *Scanner) readAllTags(ctx context.Context, files []FileInfo) {
	jobs := make(chan int, len(files))
	for i := range files {
		jobs <- i
	}
	close(jobs)

	var processed int64
	var wg sync.WaitGroup
	for w := 0; w < s.tagWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					return
				}
				files[i].Metadata = ReadFileTags(files[i].Path)
				atomic.AddInt64(&processed, 1)
			}
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt64(&processed); int(n) < len(files) {
		log.Printf("[SCANNER] Tag reading stopped after %d/%d files", n, len(files))
	}
}

// ScanPathsStreaming sends every audio file found under paths to results
// as it is discovered, then closes results
func (s *Scanner) ScanPathsStreaming(ctx context.Context, paths []string, results chan<- FileInfo) error {
	defer close(results)

	ctx, err := s.begin(ctx)
	if err != nil {
		return err
	}

	var found int
	for _, libraryPath := range paths {
		info, err := os.Stat(libraryPath)
		if err != nil || !info.IsDir() {
			log.Printf("[SCANNER] Skipping %s: not a directory", libraryPath)
			continue
		}

		err = walkAudio(ctx, libraryPath, func(fi FileInfo) error {
			if s.readTags {
				fi.Metadata = ReadFileTags(fi.Path)
			}
			select {
			case results <- fi:
				found++
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if errors.Is(err, context.Canceled) {
			s.end(ScanStatus{Status: "idle", Message: "Scan cancelled"})
			return err
		}
	}

	s.end(ScanStatus{Status: "complete", Progress: 100, Message: "Scan complete"})
	log.Printf("[SCANNER] Streamed %d files from %d paths", found, len(paths))
	return nil
}

// walkAudio calls fn for every audio file under root, skipping hidden
// directories and unreadable entries
func walkAudio(ctx context.Context, root string, fn func(FileInfo) error) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // Skip files we can't access
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsAudioFile(path) {
			return nil
		}

		fileInfo, err := d.Info()
		if err != nil {
			return nil
		}
		return fn(FileInfo{
			Path:       path,
			Size:       fileInfo.Size(),
			ModifiedAt: fileInfo.ModTime().Unix(),
		})
	})
}
