package analysis

import (
	"math"
	"sort"
)

const (
	// DefaultSimilarLimit is the number of matches returned when none is requested
	DefaultSimilarLimit = 10

	// MinSimilarityThreshold drops matches scoring below it
	MinSimilarityThreshold = 0.3
)

// SimilarityWeights defines the importance of each feature group
type SimilarityWeights struct {
	Tempo  float64 `yaml:"tempo" json:"tempo"`
	Key    float64 `yaml:"key" json:"key"`
	Energy float64 `yaml:"energy" json:"energy"`
	Genre  float64 `yaml:"genre" json:"genre"`
}

// DefaultWeights returns the default feature weights
func DefaultWeights() SimilarityWeights {
	return SimilarityWeights{
		Tempo:  0.35,
		Key:    0.25,
		Energy: 0.20,
		Genre:  0.20,
	}
}

// Match is one entry of a similar-tracks list
type Match struct {
	ContentKey string  `json:"contentKey"`
	Filename   string  `json:"filename"`
	Score      float64 `json:"score"`

	// Breakdown is the per-group similarity, see Explain
	Breakdown map[string]float64 `json:"breakdown,omitempty"`
}

// SimilarityEngine scores stored results against each other
type SimilarityEngine struct {
	store   *ResultStore
	weights SimilarityWeights
}

// NewSimilarityEngine creates a new similarity engine
func NewSimilarityEngine(store *ResultStore) *SimilarityEngine {
	return &SimilarityEngine{
		store:   store,
		weights: DefaultWeights(),
	}
}

// SetWeights updates the feature weights
func (e *SimilarityEngine) SetWeights(w SimilarityWeights) {
	e.weights = w
}

// ComputeSimilarity returns a value between 0 (different) and 1 (identical)
func (e *SimilarityEngine) ComputeSimilarity(a, b *Result) float64 {
	if a == nil || b == nil {
		return 0
	}

	var totalDistance, totalWeight float64

	totalDistance += tempoDistance(a.BPM, b.BPM) * e.weights.Tempo
	totalWeight += e.weights.Tempo

	totalDistance += keyDistance(a.Key, b.Key) * e.weights.Key
	totalWeight += e.weights.Key

	totalDistance += energyDistance(a.EnergyLevel, b.EnergyLevel) * e.weights.Energy
	totalWeight += e.weights.Energy

	totalDistance += genreDistance(a.Genres, b.Genres) * e.weights.Genre
	totalWeight += e.weights.Genre

	if totalWeight == 0 {
		return 0
	}
	return clamp(1-totalDistance/totalWeight, 0, 1)
}

// Explain returns the per-group similarity of two results
func (e *SimilarityEngine) Explain(a, b *Result) map[string]float64 {
	if a == nil || b == nil {
		return nil
	}
	return map[string]float64{
		"overall": e.ComputeSimilarity(a, b),
		"tempo":   1 - tempoDistance(a.BPM, b.BPM),
		"key":     1 - keyDistance(a.Key, b.Key),
		"energy":  1 - energyDistance(a.EnergyLevel, b.EnergyLevel),
		"genre":   1 - genreDistance(a.Genres, b.Genres),
	}
}

// FindSimilar ranks every other stored result against the one stored
// under contentKey
func (e *SimilarityEngine) FindSimilar(contentKey string, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = DefaultSimilarLimit
	}

	target, err := e.store.Get(contentKey)
	if err != nil {
		return nil, err
	}
	all, err := e.store.All()
	if err != nil {
		return nil, err
	}

	var matches []Match
	for _, other := range all {
		if other.ContentKey == contentKey || other.Result == nil || other.Result.Source == SourceError {
			continue
		}
		score := e.ComputeSimilarity(target.Result, other.Result)
		if score < MinSimilarityThreshold {
			continue
		}
		matches = append(matches, Match{
			ContentKey: other.ContentKey,
			Filename:   other.Filename,
			Score:      score,
			Breakdown:  e.Explain(target.Result, other.Result),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ContentKey < matches[j].ContentKey
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// tempoDistance treats double/half tempo as close
func tempoDistance(a, b *int) float64 {
	if a == nil || b == nil || *a <= 0 || *b <= 0 {
		return 0.5
	}
	ratio := float64(*a) / float64(*b)
	if ratio > 1 {
		ratio = 1 / ratio
	}
	if ratio > 0.45 && ratio < 0.55 {
		ratio *= 2
	}
	return clamp(1-ratio, 0, 1)
}

// keyDistance follows the circle of fifths: relative and neighbouring keys
// mix well, parallel keys less so
func keyDistance(a, b *string) float64 {
	if a == nil || b == nil {
		return 0.5
	}
	ta, ma, okA := ParseKey(*a)
	tb, mb, okB := ParseKey(*b)
	if !okA || !okB {
		return 0.5
	}

	interval := ((tb-ta)%12 + 12) % 12
	switch {
	case ta == tb && ma == mb:
		return 0
	case ma != mb && relativeKeys(ta, ma, tb):
		return 0.2
	case ma == mb && (interval == 5 || interval == 7):
		return 0.3
	case ta == tb:
		return 0.5
	default:
		return 1
	}
}

// relativeKeys reports whether tb in the other mode is the relative key of
// ta in mode ma
func relativeKeys(ta int, ma Mode, tb int) bool {
	if ma == Minor {
		return (ta+3)%12 == tb
	}
	return (tb+3)%12 == ta
}

func energyDistance(a, b *EnergyLevel) float64 {
	if a == nil || b == nil {
		return 0.5
	}
	return math.Abs(float64(energyRank(*a)-energyRank(*b))) / 2
}

func energyRank(l EnergyLevel) int {
	switch l {
	case EnergyLow:
		return 0
	case EnergyHigh:
		return 2
	default:
		return 1
	}
}

// genreDistance is the Jaccard distance of the genre sets
func genreDistance(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0.5
	}
	set := make(map[string]int, len(a)+len(b))
	for _, g := range a {
		set[g] |= 1
	}
	for _, g := range b {
		set[g] |= 2
	}
	var shared int
	for _, v := range set {
		if v == 3 {
			shared++
		}
	}
	return 1 - float64(shared)/float64(len(set))
}
