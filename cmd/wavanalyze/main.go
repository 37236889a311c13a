// Package main is the wavanalyze command: it analyzes audio files or
// directories and prints one JSON result per file on stdout.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/wavhaven/wavhaven/analyzerd/internal/analysis"
	"github.com/wavhaven/wavhaven/analyzerd/internal/config"
	"github.com/wavhaven/wavhaven/analyzerd/internal/engine"
	"github.com/wavhaven/wavhaven/analyzerd/internal/scanner"
)

// Options holds the command line flags
type Options struct {
	LowPass   bool
	Workers   int
	ConfigDir string
	StoreDir  string
	ReadTags  bool
	NoFFmpeg  bool
	Quiet     bool
}

// output is one JSON line on stdout
type output struct {
	Path        string                 `json:"path"`
	ContentKey  string                 `json:"contentKey,omitempty"`
	Cached      bool                   `json:"cached,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Result      *analysis.Result       `json:"result,omitempty"`
	Suggestions []string               `json:"suggestions,omitempty"`
	Tags        *scanner.TrackMetadata `json:"tags,omitempty"`
}

func main() {
	opts := parseFlags()
	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: wavanalyze [flags] <file or directory>...")
		flag.PrintDefaults()
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	failed, err := run(ctx, opts, flag.Args())
	if err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func parseFlags() *Options {
	opts := &Options{}
	flag.BoolVar(&opts.LowPass, "lowpass", false, "Low-pass filter the audio before tempo detection")
	flag.IntVar(&opts.Workers, "workers", 0, "Concurrent analyses (0 = NumCPU - 1)")
	flag.StringVar(&opts.ConfigDir, "config", "", "Configuration directory (default: built-in defaults)")
	flag.StringVar(&opts.StoreDir, "store", "", "Result cache directory (default: no cache)")
	flag.BoolVar(&opts.ReadTags, "tags", false, "Include embedded tags in the output")
	flag.BoolVar(&opts.NoFFmpeg, "no-ffmpeg", false, "Decode WAV and MP3 only")
	flag.BoolVar(&opts.Quiet, "quiet", false, "Hide the progress bar and log output")
	flag.Parse()
	return opts
}

func loadConfig(opts *Options) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if opts.ConfigDir != "" {
		mgr := config.NewManager(opts.ConfigDir)
		if err := mgr.Load(); err != nil {
			return nil, err
		}
		cfg = mgr.Get()
	}
	if opts.NoFFmpeg {
		cfg.Decoder.UseFFmpeg = false
	}
	if opts.Workers > 0 {
		cfg.Worker.MaxWorkers = opts.Workers
	}
	if opts.StoreDir != "" {
		cfg.Store.DataDir = opts.StoreDir
	}
	return cfg, nil
}

// collectFiles expands directories into the audio files below them
func collectFiles(ctx context.Context, args []string, readTags bool) ([]scanner.FileInfo, error) {
	var files []scanner.FileInfo
	var dirs []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			dirs = append(dirs, arg)
			continue
		}
		fi := scanner.FileInfo{Path: arg, Size: info.Size(), ModifiedAt: info.ModTime().Unix()}
		if readTags {
			fi.Metadata = scanner.ReadFileTags(arg)
		}
		files = append(files, fi)
	}

	if len(dirs) > 0 {
		results, err := scanner.NewScanner(readTags).ScanPaths(ctx, dirs)
		if err != nil {
			return nil, err
		}
		for _, result := range results {
			if result.Error != "" {
				return nil, fmt.Errorf("%s: %s", result.LibraryPath, result.Error)
			}
			files = append(files, result.Files...)
		}
	}
	return files, nil
}

func run(ctx context.Context, opts *Options, args []string) (int, error) {
	if opts.Quiet {
		log.SetOutput(io.Discard)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return 0, fmt.Errorf("failed to load config: %w", err)
	}

	files, err := collectFiles(ctx, args, opts.ReadTags)
	if err != nil {
		return 0, err
	}
	if len(files) == 0 {
		return 0, fmt.Errorf("no audio files found")
	}

	eng, err := engine.New(cfg)
	if err != nil {
		return 0, err
	}
	defer eng.Close()

	var store *analysis.ResultStore
	if cfg.Store.DataDir != "" {
		store, err = analysis.OpenResultStore(cfg.Store.DataDir)
		if err != nil {
			return 0, fmt.Errorf("failed to open result store: %w", err)
		}
		defer store.Close()
	}

	var p *mpb.Progress
	var bar *mpb.Bar
	if !opts.Quiet {
		p = mpb.New(mpb.WithWidth(64), mpb.WithOutput(os.Stderr))
		bar = p.AddBar(int64(len(files)),
			mpb.PrependDecorators(
				decor.Name("Analyzing: "),
				decor.CountersNoUnit("%d / %d"),
			),
			mpb.AppendDecorators(
				decor.Percentage(),
				decor.AverageETA(decor.ET_STYLE_GO),
			),
		)
	}
	increment := func() {
		if bar != nil {
			bar.Increment()
		}
	}

	workerCfg := engine.WorkerConfig(cfg, store, func(job analysis.Job) {
		if job.State.Finished() {
			increment()
		}
	})
	workerCfg.QueueSize = len(files)
	workerCfg.JobHistory = len(files)
	worker := analysis.NewWorker(eng.Analyzer, workerCfg)
	if err := worker.Start(ctx); err != nil {
		return 0, err
	}
	defer worker.Stop()

	outputs := make([]output, len(files))
	ids := make([]string, len(files))
	for i, file := range files {
		outputs[i] = output{Path: file.Path, Tags: file.Metadata}
		id, err := worker.Submit(analysis.JobRequest{
			Path:    file.Path,
			Options: analysis.Options{ApplyLowPassFilter: opts.LowPass},
		})
		if err != nil {
			outputs[i].Error = err.Error()
			increment()
			continue
		}
		ids[i] = id
	}

	for i, id := range ids {
		if id == "" {
			continue
		}
		job, err := worker.Wait(ctx, id)
		if err != nil {
			outputs[i].Error = err.Error()
			continue
		}
		outputs[i].ContentKey = job.ContentKey
		outputs[i].Cached = job.Cached
		outputs[i].Error = job.Error
		outputs[i].Result = job.Result
		if job.Result != nil {
			outputs[i].Suggestions = analysis.Suggestions(append(append([]string{}, job.Result.Genres...), job.Result.Moods...))
		}
	}

	if p != nil {
		if ctx.Err() != nil {
			bar.Abort(false)
		}
		p.Wait()
	}

	failed := 0
	enc := json.NewEncoder(os.Stdout)
	for _, out := range outputs {
		if out.Error != "" {
			failed++
		}
		if err := enc.Encode(out); err != nil {
			return failed, fmt.Errorf("failed to write output: %w", err)
		}
	}
	return failed, ctx.Err()
}
