package analysis

import (
	"math"
	"sort"
	"strings"
)

// EnergyLevel is the coarse loudness class of a track
type EnergyLevel string

const (
	EnergyLow    EnergyLevel = "low"
	EnergyMedium EnergyLevel = "medium"
	EnergyHigh   EnergyLevel = "high"
)

// DefaultBPM stands in for an unknown tempo in the tag tables
const DefaultBPM = 120

// ClassifyEnergy thresholds the normalized average frame energy
func ClassifyEnergy(normalizedAvg float64) EnergyLevel {
	switch {
	case normalizedAvg < 0.05:
		return EnergyLow
	case normalizedAvg > 0.3:
		return EnergyHigh
	default:
		return EnergyMedium
	}
}

// NormalizedAverageEnergy divides every frame energy by the loudest frame
// and averages the result
func NormalizedAverageEnergy(energies []float64) float64 {
	var peak float64
	for _, e := range energies {
		peak = math.Max(peak, e)
	}
	if peak <= 0 {
		return 0
	}
	var sum float64
	for _, e := range energies {
		sum += e / peak
	}
	return sum / float64(len(energies))
}

// Loudness scales the average RMS onto 0-100
func Loudness(avgRMS float64) float64 {
	return clamp(avgRMS*200, 0, 100)
}

// Danceability combines tempo, rhythm regularity, energy and spectral flatness
func Danceability(bpm int, regularity float64, level EnergyLevel, rawEnergy, flatness float64) float64 {
	var score float64
	if bpm >= 100 && bpm <= 140 {
		score += 0.3
	}
	if regularity > 0.7 {
		score += 0.3
	}
	if level == EnergyHigh || (level == EnergyMedium && rawEnergy > 0.15) {
		score += 0.2
	}
	if flatness < 0.4 {
		score += 0.2
	}
	return clamp(score, 0, 1)
}

// TagInput is what the genre/mood tables are keyed on
type TagInput struct {
	BPM          int
	Key          string
	EnergyLevel  EnergyLevel
	Danceability float64
}

// IsMinor reports whether the key label is a minor key
func (in TagInput) IsMinor() bool {
	return strings.Contains(in.Key, "minor")
}

// TagRule is one branch of a decision table. Labels may be computed from
// the input, so a rule can emit input-dependent confidences.
type TagRule struct {
	Name   string
	Match  func(TagInput) bool
	Labels func(TagInput) map[string]float64
}

func fixed(labels map[string]float64) func(TagInput) map[string]float64 {
	return func(TagInput) map[string]float64 {
		out := make(map[string]float64, len(labels))
		for k, v := range labels {
			out[k] = v
		}
		return out
	}
}

// DefaultGenreRules is the genre table. Exactly one branch fires.
func DefaultGenreRules() []TagRule {
	return []TagRule{
		{
			Name:   "fast-high",
			Match:  func(in TagInput) bool { return in.BPM > 120 && in.EnergyLevel == EnergyHigh },
			Labels: fixed(map[string]float64{"edm": 0.7, "pop": 0.3}),
		},
		{
			Name:   "midtempo-groove",
			Match:  func(in TagInput) bool { return in.BPM > 85 && in.BPM < 110 && in.EnergyLevel != EnergyLow },
			Labels: fixed(map[string]float64{"hiphop": 0.7, "rnb": 0.4}),
		},
		{
			Name:   "driving",
			Match:  func(in TagInput) bool { return in.BPM > 100 && in.BPM < 160 && in.EnergyLevel != EnergyLow },
			Labels: fixed(map[string]float64{"rock": 0.5, "pop": 0.3}),
		},
		{
			Name:   "slow-quiet",
			Match:  func(in TagInput) bool { return in.BPM < 100 && in.EnergyLevel == EnergyLow },
			Labels: fixed(map[string]float64{"ambient": 0.7, "classical": 0.3}),
		},
		{
			Name:   "swing",
			Match:  func(in TagInput) bool { return in.BPM > 110 && in.BPM < 140 && in.EnergyLevel == EnergyMedium },
			Labels: fixed(map[string]float64{"jazz": 0.5, "pop": 0.4}),
		},
		{
			Name:   "default",
			Match:  func(TagInput) bool { return true },
			Labels: fixed(map[string]float64{"pop": 0.4}),
		},
	}
}

// DefaultMoodRules is the mood table. Exactly one branch fires.
func DefaultMoodRules() []TagRule {
	return []TagRule{
		{
			Name:   "intense",
			Match:  func(in TagInput) bool { return in.EnergyLevel == EnergyHigh && in.BPM > 135 },
			Labels: fixed(map[string]float64{"aggressive": 0.7, "energetic": 0.8}),
		},
		{
			Name:  "quiet-slow",
			Match: func(in TagInput) bool { return in.EnergyLevel == EnergyLow && in.BPM < 95 },
			Labels: func(in TagInput) map[string]float64 {
				melancholic := 0.3
				if in.IsMinor() {
					melancholic = 0.6
				}
				return map[string]float64{"calm": 0.8, "melancholic": melancholic}
			},
		},
		{
			Name: "upbeat",
			Match: func(in TagInput) bool {
				return in.BPM > 100 && in.BPM < 135 && in.EnergyLevel != EnergyLow && in.Danceability > 0.5
			},
			Labels: fixed(map[string]float64{"cheerful": 0.7, "energetic": 0.6}),
		},
		{
			Name:   "quiet-minor",
			Match:  func(in TagInput) bool { return in.EnergyLevel == EnergyLow && in.IsMinor() },
			Labels: fixed(map[string]float64{"dark": 0.7, "melancholic": 0.6}),
		},
		{
			Name:   "lively",
			Match:  func(in TagInput) bool { return in.BPM > 115 || in.EnergyLevel == EnergyHigh },
			Labels: fixed(map[string]float64{"energetic": 0.7}),
		},
		{
			Name:   "default",
			Match:  func(TagInput) bool { return true },
			Labels: fixed(map[string]float64{"cheerful": 0.4}),
		},
	}
}

// Tagger applies the genre and mood decision tables
type Tagger struct {
	Genres []TagRule
	Moods  []TagRule
}

// NewTagger returns a tagger with the default tables
func NewTagger() *Tagger {
	return &Tagger{
		Genres: DefaultGenreRules(),
		Moods:  DefaultMoodRules(),
	}
}

// Tags are ranked labels with their confidences
type Tags struct {
	Genres           []string
	GenreConfidences map[string]float64
	Moods            []string
	MoodConfidences  map[string]float64
}

// Tag evaluates both tables against in
func (t *Tagger) Tag(in TagInput) Tags {
	genres := applyRules(t.Genres, in)
	moods := applyRules(t.Moods, in)
	return Tags{
		Genres:           RankLabels(genres),
		GenreConfidences: genres,
		Moods:            RankLabels(moods),
		MoodConfidences:  moods,
	}
}

// applyRules returns the labels of the first matching rule
func applyRules(rules []TagRule, in TagInput) map[string]float64 {
	for _, rule := range rules {
		if rule.Match(in) {
			return rule.Labels(in)
		}
	}
	return map[string]float64{}
}

// RankLabels returns labels with confidence > 0, highest first (ties by name)
func RankLabels(confidences map[string]float64) []string {
	labels := make([]string, 0, len(confidences))
	for name, conf := range confidences {
		if conf > 0 {
			labels = append(labels, name)
		}
	}
	sort.Slice(labels, func(i, j int) bool {
		ci, cj := confidences[labels[i]], confidences[labels[j]]
		if ci != cj {
			return ci > cj
		}
		return labels[i] < labels[j]
	})
	return labels
}

var genreSynonyms = map[string][]string{
	"edm":       {"electronic", "dance", "edm"},
	"hiphop":    {"hip hop", "rap", "trap"},
	"pop":       {"pop", "synth pop"},
	"rock":      {"rock", "alternative", "indie"},
	"jazz":      {"jazz", "fusion"},
	"classical": {"classical", "orchestral", "chamber"},
	"ambient":   {"ambient", "atmospheric", "downtempo"},
	"folk":      {"folk", "acoustic", "singer-songwriter"},
	"reggae":    {"reggae", "dub"},
	"rnb":       {"r&b", "soul"},
	"funk":      {"funk", "disco"},
	"country":   {"country", "americana"},
	"metal":     {"metal", "heavy metal"},
	"blues":     {"blues"},
	"latin":     {"latin", "salsa", "reggaeton"},
	"world":     {"world", "ethnic", "traditional"},
}

var moodSynonyms = map[string][]string{
	"aggressive":  {"aggressive", "intense", "angry"},
	"calm":        {"calm", "peaceful", "relaxed", "chill"},
	"cheerful":    {"cheerful", "happy", "upbeat"},
	"dark":        {"dark", "gloomy", "ominous"},
	"energetic":   {"energetic", "lively", "powerful"},
	"epic":        {"epic", "grandiose", "majestic"},
	"melancholic": {"melancholic", "sad", "emotional"},
	"romantic":    {"romantic", "sensual", "passionate"},
	"suspenseful": {"suspenseful", "tense", "mysterious"},
	"ethereal":    {"ethereal", "dreamy", "magical"},
}

// Synonyms returns the display suggestions for a genre or mood tag
func Synonyms(tag string) []string {
	tag = strings.ToLower(tag)
	if s, ok := genreSynonyms[tag]; ok {
		return append([]string(nil), s...)
	}
	if s, ok := moodSynonyms[tag]; ok {
		return append([]string(nil), s...)
	}
	return nil
}

// Suggestions expands ranked tags into their synonyms, without duplicates
func Suggestions(tags []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tag := range tags {
		for _, s := range Synonyms(tag) {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}
