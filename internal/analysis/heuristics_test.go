package analysis

import (
	"math"
	"reflect"
	"testing"
)

func TestTaggerGenres(t *testing.T) {
	tagger := NewTagger()

	tests := []struct {
		name       string
		in         TagInput
		wantGenres []string
	}{
		{"fast and loud", TagInput{BPM: 128, EnergyLevel: EnergyHigh}, []string{"edm", "pop"}},
		{"midtempo", TagInput{BPM: 95, EnergyLevel: EnergyMedium}, []string{"hiphop", "rnb"}},
		{"driving", TagInput{BPM: 125, EnergyLevel: EnergyMedium}, []string{"rock", "pop"}},
		{"slow and quiet", TagInput{BPM: 80, EnergyLevel: EnergyLow}, []string{"ambient", "classical"}},
		{"nothing matches", TagInput{BPM: 170, EnergyLevel: EnergyLow}, []string{"pop"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tags := tagger.Tag(tt.in)
			if !reflect.DeepEqual(tags.Genres, tt.wantGenres) {
				t.Errorf("Expected genres %v, got %v", tt.wantGenres, tags.Genres)
			}
			if len(tags.GenreConfidences) != len(tt.wantGenres) {
				t.Errorf("Expected %d confidences, got %v", len(tt.wantGenres), tags.GenreConfidences)
			}
		})
	}
}

func TestTaggerMoods(t *testing.T) {
	tagger := NewTagger()

	tests := []struct {
		name      string
		in        TagInput
		wantMoods map[string]float64
	}{
		{"intense", TagInput{BPM: 140, EnergyLevel: EnergyHigh}, map[string]float64{"aggressive": 0.7, "energetic": 0.8}},
		{"quiet slow minor", TagInput{BPM: 80, Key: "A minor", EnergyLevel: EnergyLow}, map[string]float64{"calm": 0.8, "melancholic": 0.6}},
		{"quiet slow major", TagInput{BPM: 80, Key: "C major", EnergyLevel: EnergyLow}, map[string]float64{"calm": 0.8, "melancholic": 0.3}},
		{"upbeat", TagInput{BPM: 120, EnergyLevel: EnergyMedium, Danceability: 0.8}, map[string]float64{"cheerful": 0.7, "energetic": 0.6}},
		{"quiet minor", TagInput{BPM: 120, Key: "E minor", EnergyLevel: EnergyLow}, map[string]float64{"dark": 0.7, "melancholic": 0.6}},
		{"lively", TagInput{BPM: 120, EnergyLevel: EnergyMedium, Danceability: 0.3}, map[string]float64{"energetic": 0.7}},
		{"default", TagInput{BPM: 100, EnergyLevel: EnergyMedium}, map[string]float64{"cheerful": 0.4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tags := tagger.Tag(tt.in)
			if !reflect.DeepEqual(tags.MoodConfidences, tt.wantMoods) {
				t.Errorf("Expected moods %v, got %v", tt.wantMoods, tags.MoodConfidences)
			}
			if len(tags.Moods) != len(tt.wantMoods) {
				t.Errorf("Expected %d ranked moods, got %v", len(tt.wantMoods), tags.Moods)
			}
		})
	}
}

func TestTaggerCustomRules(t *testing.T) {
	tagger := &Tagger{
		Genres: []TagRule{{
			Name:   "everything",
			Match:  func(TagInput) bool { return true },
			Labels: fixed(map[string]float64{"folk": 0.9}),
		}},
	}

	tags := tagger.Tag(TagInput{BPM: 120})
	if !reflect.DeepEqual(tags.Genres, []string{"folk"}) {
		t.Errorf("Expected [folk], got %v", tags.Genres)
	}
	if len(tags.Moods) != 0 {
		t.Errorf("Expected no moods without rules, got %v", tags.Moods)
	}
}

func TestDanceability(t *testing.T) {
	tests := []struct {
		name       string
		bpm        int
		regularity float64
		level      EnergyLevel
		rawEnergy  float64
		flatness   float64
		want       float64
	}{
		{"everything", 120, 0.9, EnergyHigh, 0.2, 0.2, 1.0},
		{"nothing", 80, 0, EnergyLow, 0, 0.9, 0},
		{"tempo and medium energy", 120, 0.5, EnergyMedium, 0.2, 0.5, 0.5},
		{"quiet medium energy", 120, 0.5, EnergyMedium, 0.1, 0.5, 0.3},
		{"regular but slow", 90, 0.8, EnergyLow, 0, 0.3, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Danceability(tt.bpm, tt.regularity, tt.level, tt.rawEnergy, tt.flatness)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestClassifyEnergy(t *testing.T) {
	tests := []struct {
		value float64
		want  EnergyLevel
	}{
		{0, EnergyLow},
		{0.049, EnergyLow},
		{0.05, EnergyMedium},
		{0.3, EnergyMedium},
		{0.31, EnergyHigh},
		{1, EnergyHigh},
	}

	for _, tt := range tests {
		if got := ClassifyEnergy(tt.value); got != tt.want {
			t.Errorf("ClassifyEnergy(%v): expected %s, got %s", tt.value, tt.want, got)
		}
	}
}

func TestNormalizedAverageEnergy(t *testing.T) {
	if got := NormalizedAverageEnergy([]float64{0.5, 1}); math.Abs(got-0.75) > 1e-12 {
		t.Errorf("Expected 0.75, got %v", got)
	}
	if got := NormalizedAverageEnergy([]float64{0.1, 0.2}); math.Abs(got-0.75) > 1e-12 {
		t.Errorf("Expected scale invariance, got %v", got)
	}
	if got := NormalizedAverageEnergy([]float64{0, 0}); got != 0 {
		t.Errorf("Expected 0 for silence, got %v", got)
	}
	if got := NormalizedAverageEnergy(nil); got != 0 {
		t.Errorf("Expected 0 for no frames, got %v", got)
	}
}

func TestLoudness(t *testing.T) {
	tests := []struct {
		rms  float64
		want float64
	}{
		{0, 0},
		{0.1, 20},
		{0.5, 100},
		{2, 100},
	}
	for _, tt := range tests {
		if got := Loudness(tt.rms); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Loudness(%v): expected %v, got %v", tt.rms, tt.want, got)
		}
	}
}

func TestRankLabels(t *testing.T) {
	got := RankLabels(map[string]float64{"b": 0.5, "a": 0.5, "c": 0.9, "z": 0})
	want := []string{"c", "a", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestSynonyms(t *testing.T) {
	if got := Synonyms("EDM"); !reflect.DeepEqual(got, []string{"electronic", "dance", "edm"}) {
		t.Errorf("Unexpected edm synonyms: %v", got)
	}
	if got := Synonyms("calm"); len(got) == 0 || got[0] != "calm" {
		t.Errorf("Unexpected calm synonyms: %v", got)
	}
	if got := Synonyms("polka"); got != nil {
		t.Errorf("Expected nil for unknown tag, got %v", got)
	}

	got := Suggestions([]string{"edm", "pop", "edm"})
	want := []string{"electronic", "dance", "edm", "pop", "synth pop"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}
