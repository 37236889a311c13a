package analysis

import "testing"

func TestParseFilename(t *testing.T) {
	tests := []struct {
		filename   string
		wantBPM    int
		wantHasBPM bool
		wantKey    string
	}{
		{"Dreamscape_140BPM_Fmin.mp3", 140, true, "F minor"},
		{"MyTrack_128bpm_Amin.wav", 128, true, "A minor"},
		{"loop bpm_128 C#maj.wav", 128, true, "C♯ major"},
		{"Ebmaj.wav", 0, false, "E♭ major"},
		{"Bb minor 90 bpm.mp3", 90, true, "B♭ minor"},
		{"demo.wav", 0, false, ""},
		{"/music/120bpm/Amin/track.wav", 0, false, ""},
		{"Adminor.wav", 0, false, ""},
		{"track 1234bpm.wav", 0, false, ""},
		{"", 0, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			hints := ParseFilename(tt.filename)
			if hints.HasBPM != tt.wantHasBPM || hints.BPM != tt.wantBPM {
				t.Errorf("Expected bpm %d (%v), got %d (%v)", tt.wantBPM, tt.wantHasBPM, hints.BPM, hints.HasBPM)
			}
			if hints.Key != tt.wantKey {
				t.Errorf("Expected key %q, got %q", tt.wantKey, hints.Key)
			}
			if hints.Used() != (tt.wantHasBPM || tt.wantKey != "") {
				t.Errorf("Unexpected Used() = %v", hints.Used())
			}
		})
	}
}

func TestFilenameKeyParsesBack(t *testing.T) {
	hints := ParseFilename("loop_F#min.wav")
	tonic, mode, ok := ParseKey(hints.Key)
	if !ok {
		t.Fatalf("Filename key %q did not parse", hints.Key)
	}
	if tonic != 6 || mode != Minor {
		t.Errorf("Expected F♯ minor, got %d %s", tonic, mode)
	}
}
