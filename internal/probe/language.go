package probe

import (
	"fmt"
	"strings"
)

// Lang is the coarse language tag attached to every tick.
type Lang string

const (
	LangKorean  Lang = "ko"
	LangEnglish Lang = "en"
)

// Language is the classified input source of one tick.
type Language struct {
	Tag Lang

	// Diagnostic is the raw identifier and name, for logs only.
	Diagnostic string
}

// DefaultKoreanMarkers are the lower-case substrings that mark an input
// source as Korean: romanized identifiers, the native script names and the
// 2-set layout marker.
var DefaultKoreanMarkers = []string{
	"korean",
	"hangul",
	"2set",
	"두벌식",
	"한글",
}

// Classifier tags an input source as Korean when its identifier or name
// contains any marker, and English otherwise. Non-Korean, non-English
// sources are tagged English too.
type Classifier struct {
	markers []string
}

// NewClassifier returns a classifier for the given markers. Markers are
// lower-cased; empty markers are ignored. A nil or empty list selects
// DefaultKoreanMarkers.
func NewClassifier(markers []string) *Classifier {
	c := &Classifier{}
	for _, m := range markers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			c.markers = append(c.markers, m)
		}
	}
	if len(c.markers) == 0 {
		c.markers = append(c.markers, DefaultKoreanMarkers...)
	}
	return c
}

// Markers returns a copy of the classifier's markers.
func (c *Classifier) Markers() []string {
	out := make([]string, len(c.markers))
	copy(out, c.markers)
	return out
}

// Classify tags src.
func (c *Classifier) Classify(src InputSource) Language {
	id := orNone(src.ID)
	name := orNone(src.Name)
	diag := fmt.Sprintf("ID=[%s] Name=[%s]", id, name)

	lowerID := strings.ToLower(src.ID)
	lowerName := strings.ToLower(src.Name)
	for _, m := range c.markers {
		if strings.Contains(lowerID, m) || strings.Contains(lowerName, m) {
			return Language{Tag: LangKorean, Diagnostic: diag}
		}
	}
	return Language{Tag: LangEnglish, Diagnostic: diag}
}

func orNone(s string) string {
	if s == "" {
		return "None"
	}
	return s
}
