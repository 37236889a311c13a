package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// Format identifies the container/codec of an uploaded file
type Format string

const (
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
	FormatUnknown Format = "unknown"
)

// DefaultMaxDuration bounds how much audio is decoded for analysis
const DefaultMaxDuration = 10 * time.Minute

var (
	ErrEmptyInput        = errors.New("empty input")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrNoSamples         = errors.New("no audio samples decoded")
)

// DecodeError reports that a byte buffer could not be decoded as audio.
// It is fatal for an analysis.
type DecodeError struct {
	Format Format
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Format == "" {
		return fmt.Sprintf("decode audio: %v", e.Err)
	}
	return fmt.Sprintf("decode %s audio: %v", e.Format, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// DecoderConfig configures the Decoder
type DecoderConfig struct {
	// MaxDuration truncates longer streams (0 = DefaultMaxDuration)
	MaxDuration time.Duration

	// FFmpeg handles formats the native decoders don't. Nil disables it.
	FFmpeg *FFmpegDecoder
}

// Decoder turns raw file bytes into a Signal. WAV and MP3 are decoded
// natively; everything else goes through ffmpeg when it is available.
type Decoder struct {
	maxDuration time.Duration
	ffmpeg      *FFmpegDecoder
}

// NewDecoder creates a decoder
func NewDecoder(cfg DecoderConfig) *Decoder {
	maxDuration := cfg.MaxDuration
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}
	return &Decoder{
		maxDuration: maxDuration,
		ffmpeg:      cfg.FFmpeg,
	}
}

// Decode decodes data. The filename is only used as a format hint when
// the magic bytes are inconclusive.
func (d *Decoder) Decode(ctx context.Context, data []byte, filename string) (*Signal, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Format: FormatUnknown, Err: ErrEmptyInput}
	}

	format := SniffFormat(data, filename)

	var (
		sig *Signal
		err error
	)
	switch format {
	case FormatWAV:
		sig, err = d.decodeWAV(data)
		if errors.Is(err, errWAVEncoding) && d.ffmpeg != nil {
			log.Printf("[DECODER] %s: %v, retrying with ffmpeg", filename, err)
			sig, err = d.ffmpeg.Decode(ctx, data, d.maxDuration)
		}
	case FormatMP3:
		sig, err = d.decodeMP3(data)
	default:
		if d.ffmpeg == nil {
			return nil, &DecodeError{Format: format, Err: ErrUnsupportedFormat}
		}
		sig, err = d.ffmpeg.Decode(ctx, data, d.maxDuration)
	}
	if err != nil {
		var decErr *DecodeError
		if errors.As(err, &decErr) {
			return nil, err
		}
		return nil, &DecodeError{Format: format, Err: err}
	}

	if err := validateSignal(sig); err != nil {
		return nil, &DecodeError{Format: format, Err: err}
	}
	return sig, nil
}

// SniffFormat detects the format from magic bytes, then the extension
func SniffFormat(data []byte, filename string) Format {
	if len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE" {
		return FormatWAV
	}
	if len(data) >= 3 && string(data[0:3]) == "ID3" {
		return FormatMP3
	}
	if len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0 && data[1]&0x06 != 0 {
		return FormatMP3
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".wav", ".wave":
		return FormatWAV
	case ".mp3":
		return FormatMP3
	}
	return FormatUnknown
}

var errWAVEncoding = errors.New("unsupported WAV encoding")

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

func (d *Decoder) decodeWAV(data []byte) (*Signal, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("invalid WAV file")
	}
	if dec.WavAudioFormat != wavFormatPCM && dec.WavAudioFormat != wavFormatExtensible {
		return nil, fmt.Errorf("%w: format tag %d", errWAVEncoding, dec.WavAudioFormat)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read PCM data: %w", err)
	}
	if buf == nil || buf.Format == nil {
		return nil, ErrNoSamples
	}

	numCh := buf.Format.NumChannels
	sampleRate := buf.Format.SampleRate
	if numCh <= 0 || sampleRate <= 0 {
		return nil, fmt.Errorf("invalid WAV header: %d channels at %d Hz", numCh, sampleRate)
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = int(dec.BitDepth)
	}
	if bitDepth <= 0 || bitDepth > 32 {
		return nil, fmt.Errorf("%w: %d-bit samples", errWAVEncoding, bitDepth)
	}

	frames := len(buf.Data) / numCh
	if limit := d.maxFrames(sampleRate); frames > limit {
		frames = limit
	}

	scale := math.Pow(2, float64(bitDepth-1))
	channels := make([][]float64, numCh)
	for ch := range channels {
		channels[ch] = make([]float64, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < numCh; ch++ {
			v := float64(buf.Data[i*numCh+ch])
			if bitDepth == 8 {
				// 8-bit WAV is unsigned
				v -= 128
			}
			channels[ch][i] = v / scale
		}
	}

	return &Signal{Channels: channels, SampleRate: sampleRate}, nil
}

func (d *Decoder) decodeMP3(data []byte) (*Signal, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create MP3 decoder: %w", err)
	}

	sampleRate := dec.SampleRate()
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid MP3 sample rate %d", sampleRate)
	}

	// go-mp3 always produces 16-bit little-endian stereo
	const bytesPerFrame = 4
	limit := int64(d.maxFrames(sampleRate)) * bytesPerFrame
	pcm, err := io.ReadAll(io.LimitReader(dec, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to decode MP3: %w", err)
	}

	frames := len(pcm) / bytesPerFrame
	left := make([]float64, frames)
	right := make([]float64, frames)
	for i := 0; i < frames; i++ {
		off := i * bytesPerFrame
		left[i] = float64(int16(binary.LittleEndian.Uint16(pcm[off:]))) / 32768.0
		right[i] = float64(int16(binary.LittleEndian.Uint16(pcm[off+2:]))) / 32768.0
	}

	return &Signal{Channels: [][]float64{left, right}, SampleRate: sampleRate}, nil
}

func (d *Decoder) maxFrames(sampleRate int) int {
	return int(d.maxDuration.Seconds() * float64(sampleRate))
}

func validateSignal(sig *Signal) error {
	if sig == nil || sig.NumChannels() == 0 {
		return fmt.Errorf("no channels decoded")
	}
	if sig.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", sig.SampleRate)
	}
	if sig.Len() == 0 {
		return ErrNoSamples
	}
	return nil
}
