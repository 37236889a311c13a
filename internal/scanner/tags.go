package scanner

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dhowden/tag"
)

// TrackMetadata contains embedded tags of an audio file. BPM and Key are
// the raw tag values, reported next to the analysis without overriding it.
type TrackMetadata struct {
	Title    string `json:"title,omitempty"`
	Artist   string `json:"artist,omitempty"`
	Album    string `json:"album,omitempty"`
	Genre    string `json:"genre,omitempty"`
	Year     int    `json:"year,omitempty"`
	BPM      string `json:"bpm,omitempty"`
	Key      string `json:"key,omitempty"`
	Format   string `json:"format,omitempty"`
	FileType string `json:"fileType,omitempty"`
}

// Raw tag names carrying tempo and key, per container
var (
	bpmTagNames = []string{"TBPM", "TBP", "bpm", "tmpo", "BPM"}
	keyTagNames = []string{"TKEY", "TKE", "initialkey", "key", "INITIALKEY"}
)

// ReadTags reads embedded tags from r
func ReadTags(r io.ReadSeeker) (*TrackMetadata, error) {
	m, err := tag.ReadFrom(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read tags: %w", err)
	}

	meta := &TrackMetadata{
		Title:    m.Title(),
		Artist:   m.Artist(),
		Album:    m.Album(),
		Genre:    m.Genre(),
		Year:     m.Year(),
		Format:   string(m.Format()),
		FileType: string(m.FileType()),
	}

	raw := m.Raw()
	meta.BPM = firstRaw(raw, bpmTagNames)
	meta.Key = firstRaw(raw, keyTagNames)
	return meta, nil
}

// ReadFileTags reads the tags of the file at path. Files without readable
// tags get a title derived from the filename.
func ReadFileTags(path string) *TrackMetadata {
	meta := &TrackMetadata{}

	f, err := os.Open(path)
	if err == nil {
		if m, err := ReadTags(f); err == nil {
			meta = m
		}
		f.Close()
	}

	if meta.Title == "" {
		fileName := filepath.Base(path)
		meta.Title = strings.TrimSuffix(fileName, filepath.Ext(fileName))
	}
	return meta
}

func firstRaw(raw map[string]interface{}, names []string) string {
	for _, name := range names {
		v, ok := raw[name]
		if !ok {
			continue
		}
		var s string
		switch val := v.(type) {
		case string:
			s = val
		case int:
			s = strconv.Itoa(val)
		case fmt.Stringer:
			s = val.String()
		}
		if s = strings.TrimSpace(strings.Trim(s, "\x00")); s != "" {
			return s
		}
	}
	return ""
}
