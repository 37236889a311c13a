package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"time"
)

// FFmpegDecoder decodes formats without a native Go decoder (AIFF, FLAC,
// OGG, M4A...) by piping the bytes through ffmpeg.
type FFmpegDecoder struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpegDecoder resolves ffmpeg and ffprobe. Empty paths are looked up in PATH.
func NewFFmpegDecoder(ffmpegPath, ffprobePath string) (*FFmpegDecoder, error) {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}

	resolvedFFmpeg, err := exec.LookPath(ffmpegPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	resolvedFFprobe, err := exec.LookPath(ffprobePath)
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found: %w", err)
	}

	return &FFmpegDecoder{
		ffmpegPath:  resolvedFFmpeg,
		ffprobePath: resolvedFFprobe,
	}, nil
}

// StreamInfo describes the first audio stream of a file
type StreamInfo struct {
	Channels   int
	SampleRate int
	Codec      string
}

// Probe reads the channel count and sample rate of the first audio stream
func (d *FFmpegDecoder) Probe(ctx context.Context, data []byte) (*StreamInfo, error) {
	args := []string{
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=codec_name,channels,sample_rate",
		"-of", "json",
		"pipe:0",
	}

	cmd := exec.CommandContext(ctx, d.ffprobePath, args...)
	cmd.Stdin = bytes.NewReader(data)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var probe struct {
		Streams []struct {
			CodecName  string `json:"codec_name"`
			Channels   int    `json:"channels"`
			SampleRate string `json:"sample_rate"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	if len(probe.Streams) == 0 {
		return nil, fmt.Errorf("no audio stream found")
	}

	stream := probe.Streams[0]
	sampleRate, err := strconv.Atoi(stream.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse sample rate %q: %w", stream.SampleRate, err)
	}

	return &StreamInfo{
		Channels:   stream.Channels,
		SampleRate: sampleRate,
		Codec:      stream.CodecName,
	}, nil
}

// Decode converts data to 32-bit float PCM at its native rate and channel layout
func (d *FFmpegDecoder) Decode(ctx context.Context, data []byte, maxDuration time.Duration) (*Signal, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	info, err := d.Probe(ctx, data)
	if err != nil {
		return nil, err
	}
	if info.Channels <= 0 || info.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid stream: %d channels at %d Hz", info.Channels, info.SampleRate)
	}

	args := []string{
		"-v", "error",
		"-i", "pipe:0",
		"-t", fmt.Sprintf("%.3f", maxDuration.Seconds()),
		"-f", "f32le",
		"-acodec", "pcm_f32le",
		"-ac", strconv.Itoa(info.Channels),
		"-ar", strconv.Itoa(info.SampleRate),
		"pipe:1",
	}

	cmd := exec.CommandContext(ctx, d.ffmpegPath, args...)
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	// Ensure process is killed and reaped on any exit path
	defer func() {
		if cmd.Process != nil {
			cmd.Process.Kill()
			cmd.Wait()
		}
	}()

	var pcm bytes.Buffer
	pcm.Grow(1024 * 1024)
	if _, err := io.Copy(&pcm, stdout); err != nil {
		return nil, fmt.Errorf("failed to read ffmpeg output: %w", err)
	}
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}

	return signalFromF32LE(pcm.Bytes(), info.Channels, info.SampleRate), nil
}

// signalFromF32LE deinterleaves little-endian float32 PCM
func signalFromF32LE(pcm []byte, numCh, sampleRate int) *Signal {
	frameBytes := 4 * numCh
	frames := len(pcm) / frameBytes

	channels := make([][]float64, numCh)
	for ch := range channels {
		channels[ch] = make([]float64, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < numCh; ch++ {
			off := i*frameBytes + ch*4
			channels[ch][i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(pcm[off:])))
		}
	}
	return &Signal{Channels: channels, SampleRate: sampleRate}
}
