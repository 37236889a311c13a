package analysis

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Mode is the key mode
type Mode string

const (
	Major Mode = "major"
	Minor Mode = "minor"
)

// PitchClassNames are the display names of the 12 pitch classes
var PitchClassNames = [12]string{"C", "C♯/D♭", "D", "D♯/E♭", "E", "F", "F♯/G♭", "G", "G♯/A♭", "A", "A♯/B♭", "B"}

// Krumhansl-Kessler key profiles
var (
	majorProfile = [12]float64{6.35, 2.23, 3.48, 2.33, 4.38, 4.09, 2.52, 5.19, 2.39, 3.66, 2.29, 2.88}
	minorProfile = [12]float64{6.33, 2.68, 3.52, 5.38, 2.60, 3.53, 2.54, 4.75, 3.98, 2.69, 3.34, 3.17}
)

const maxKeyConfidence = 0.95

// KeyEstimate is the result of key detection. Detected is false when the
// averaged chroma was degenerate; Tonic and Mode are meaningless then.
type KeyEstimate struct {
	Detected   bool
	Tonic      int
	Mode       Mode
	Confidence float64
}

// Label formats the key as "{tonic} {mode}", or "" when nothing was detected
func (k KeyEstimate) Label() string {
	if !k.Detected {
		return ""
	}
	return KeyLabel(k.Tonic, k.Mode)
}

// KeyLabel formats a pitch class and mode
func KeyLabel(tonic int, mode Mode) string {
	return PitchClassNames[((tonic%12)+12)%12] + " " + string(mode)
}

// AverageChroma averages chroma across frames and normalizes by the maximum bin.
// ok is false when there are no frames or the result is all zero or non-finite.
func AverageChroma(frames []FrameFeatures) (chroma [12]float64, ok bool) {
	if len(frames) == 0 {
		return chroma, false
	}
	for _, f := range frames {
		for i, v := range f.Chroma {
			chroma[i] += v
		}
	}

	var peak float64
	for i := range chroma {
		chroma[i] /= float64(len(frames))
		if math.IsNaN(chroma[i]) || math.IsInf(chroma[i], 0) {
			return [12]float64{}, false
		}
		if chroma[i] > peak {
			peak = chroma[i]
		}
	}
	if peak <= 0 {
		return [12]float64{}, false
	}
	for i := range chroma {
		chroma[i] /= peak
	}
	return chroma, true
}

// EstimateKey correlates the averaged chroma of frames with the key profiles
func EstimateKey(frames []FrameFeatures) KeyEstimate {
	chroma, ok := AverageChroma(frames)
	if !ok {
		return KeyEstimate{}
	}
	return KeyFromChroma(chroma)
}

// KeyFromChroma picks the (tonic, mode) whose rotated profile best correlates
// with a peak-normalized chroma vector. Major is checked before minor and
// lower tonics first; the first maximum wins.
func KeyFromChroma(chroma [12]float64) KeyEstimate {
	var maxChroma float64
	for _, v := range chroma {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return KeyEstimate{}
		}
		maxChroma = math.Max(maxChroma, v)
	}
	if maxChroma <= 0 {
		return KeyEstimate{}
	}

	best := KeyEstimate{Detected: true}
	bestCorr := math.Inf(-1)
	rotated := make([]float64, 12)
	for _, candidate := range []struct {
		mode    Mode
		profile *[12]float64
	}{{Major, &majorProfile}, {Minor, &minorProfile}} {
		for tonic := 0; tonic < 12; tonic++ {
			for i := 0; i < 12; i++ {
				rotated[i] = candidate.profile[(i-tonic+12)%12]
			}
			corr := floats.Dot(chroma[:], rotated)
			if corr > bestCorr+tieTolerance {
				bestCorr = corr
				best.Tonic = tonic
				best.Mode = candidate.mode
			}
		}
	}

	theoreticalMax := maxProfileValue() * 12 * maxChroma
	if bestCorr > 0 && theoreticalMax > 0 {
		best.Confidence = math.Sqrt(bestCorr / theoreticalMax)
	}
	best.Confidence = clamp(best.Confidence, 0, maxKeyConfidence)
	return best
}

// tieTolerance absorbs summation-order noise so equal scores keep the first candidate
const tieTolerance = 1e-9

func maxProfileValue() float64 {
	var m float64
	for i := range majorProfile {
		m = math.Max(m, math.Max(majorProfile[i], minorProfile[i]))
	}
	return m
}

var noteLetters = map[byte]int{'C': 0, 'D': 2, 'E': 4, 'F': 5, 'G': 7, 'A': 9, 'B': 11}

// ParseKey parses labels such as "C♯/D♭ minor", "F♯ minor", "Bb major" or
// "a min" into a pitch class and mode.
func ParseKey(label string) (tonic int, mode Mode, ok bool) {
	fields := strings.Fields(strings.TrimSpace(label))
	if len(fields) != 2 {
		return 0, "", false
	}

	switch strings.ToLower(fields[1]) {
	case "major", "maj":
		mode = Major
	case "minor", "min":
		mode = Minor
	default:
		return 0, "", false
	}

	root := fields[0]
	if slash := strings.IndexByte(root, '/'); slash >= 0 {
		root = root[:slash]
	}
	if root == "" {
		return 0, "", false
	}

	tonic, found := noteLetters[strings.ToUpper(root[:1])[0]]
	if !found {
		return 0, "", false
	}
	for _, r := range root[1:] {
		switch r {
		case '#', '♯':
			tonic++
		case 'b', '♭':
			tonic--
		default:
			return 0, "", false
		}
	}
	return ((tonic % 12) + 12) % 12, mode, true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
