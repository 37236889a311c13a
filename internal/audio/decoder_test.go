package audio

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// writeWAV encodes 16-bit PCM and returns the file bytes
func writeWAV(t *testing.T, channels [][]float64, sampleRate int) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fixture.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create fixture: %v", err)
	}

	frames := len(channels[0])
	data := make([]int, 0, frames*len(channels))
	for i := 0; i < frames; i++ {
		for _, ch := range channels {
			data = append(data, int(math.Round(ch[i]*32767)))
		}
	}

	enc := wav.NewEncoder(f, sampleRate, 16, len(channels), 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: len(channels), SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Failed to close encoder: %v", err)
	}
	f.Close()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read fixture: %v", err)
	}
	return raw
}

func TestDecodeWAV(t *testing.T) {
	left := sine(440, 22050, 0.5, 0.5)
	right := make([]float64, len(left))
	data := writeWAV(t, [][]float64{left, right}, 22050)

	dec := NewDecoder(DecoderConfig{})
	sig, err := dec.Decode(context.Background(), data, "tone.wav")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if sig.SampleRate != 22050 {
		t.Errorf("Expected sample rate 22050, got %d", sig.SampleRate)
	}
	if sig.NumChannels() != 2 {
		t.Errorf("Expected 2 channels, got %d", sig.NumChannels())
	}
	if sig.Len() != len(left) {
		t.Errorf("Expected %d samples, got %d", len(left), sig.Len())
	}
	for i := 0; i < 100; i++ {
		if math.Abs(sig.Channels[0][i]-left[i]) > 1e-3 {
			t.Fatalf("Sample %d: expected %v, got %v", i, left[i], sig.Channels[0][i])
		}
	}
}

func TestDecodeWAVMaxDuration(t *testing.T) {
	data := writeWAV(t, [][]float64{sine(440, 8000, 2, 0.5)}, 8000)

	dec := NewDecoder(DecoderConfig{MaxDuration: time.Second})
	sig, err := dec.Decode(context.Background(), data, "long.wav")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if sig.Len() != 8000 {
		t.Errorf("Expected truncation to 8000 samples, got %d", sig.Len())
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		filename string
		wantErr  error
	}{
		{"empty", nil, "empty.wav", ErrEmptyInput},
		{"text", []byte("this is definitely not an audio file, just some text"), "notes.txt", ErrUnsupportedFormat},
		{"text with audio extension", []byte("hello world, still not audio"), "fake.wav", nil},
	}

	dec := NewDecoder(DecoderConfig{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := dec.Decode(context.Background(), tt.data, tt.filename)
			if sig != nil {
				t.Errorf("Expected nil signal, got %+v", sig)
			}
			var decErr *DecodeError
			if !errors.As(err, &decErr) {
				t.Fatalf("Expected DecodeError, got %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSniffFormat(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		filename string
		want     Format
	}{
		{"riff wave", []byte("RIFF\x24\x00\x00\x00WAVEfmt "), "x.bin", FormatWAV},
		{"id3", []byte("ID3\x04\x00\x00"), "", FormatMP3},
		{"mpeg sync", []byte{0xFF, 0xFB, 0x90, 0x64}, "", FormatMP3},
		{"extension fallback", []byte("????"), "Song.MP3", FormatMP3},
		{"unknown", []byte("fLaC\x00\x00"), "song.flac", FormatUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SniffFormat(tt.data, tt.filename); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}
