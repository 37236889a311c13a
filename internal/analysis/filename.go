package analysis

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// FilenameHints are tempo/key values parsed from an upload's filename
type FilenameHints struct {
	BPM    int
	HasBPM bool
	Key    string // "" when absent
}

// Used reports whether either field was found
func (h FilenameHints) Used() bool {
	return h.HasBPM || h.Key != ""
}

var (
	// A note letter with optional accidental and a maj/min suffix, delimited by
	// non-alphanumerics so "_Amin." matches but "Adminor" doesn't.
	filenameKeyPattern = regexp.MustCompile(`(?i)(?:^|[^a-z0-9])([a-g])([#b♭♯]?)\s*(maj(?:or)?|min(?:or)?)(?:$|[^a-z0-9])`)

	// "128bpm", "128 BPM", "bpm128", "bpm_128"
	filenameBPMPattern = regexp.MustCompile(`(?i)(?:^|[^0-9])(\d{2,3})\s*bpm(?:$|[^a-z])|bpm\s*[-_ ]?(\d{2,3})(?:$|[^0-9])`)
)

// ParseFilename extracts bpm and key hints from a filename. Directory
// components are ignored.
func ParseFilename(filename string) FilenameHints {
	var hints FilenameHints
	name := filepath.Base(filename)
	if name == "" || name == "." {
		return hints
	}

	if m := filenameBPMPattern.FindStringSubmatch(name); m != nil {
		digits := m[1]
		if digits == "" {
			digits = m[2]
		}
		if bpm, err := strconv.Atoi(digits); err == nil {
			hints.BPM = bpm
			hints.HasBPM = true
		}
	}

	if m := filenameKeyPattern.FindStringSubmatch(name); m != nil {
		hints.Key = formatFilenameKey(m[1], m[2], m[3])
	}

	return hints
}

// formatFilenameKey renders "f", "#", "min" as "F♯ minor"
func formatFilenameKey(letter, accidental, mode string) string {
	root := strings.ToUpper(letter)
	switch accidental {
	case "b", "B":
		root += "♭"
	case "#":
		root += "♯"
	default:
		root += accidental
	}

	m := Minor
	if strings.HasPrefix(strings.ToLower(mode), "maj") {
		m = Major
	}
	return root + " " + string(m)
}
