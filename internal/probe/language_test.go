package probe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	c := NewClassifier(nil)

	tests := []struct {
		name string
		src  InputSource
		want Lang
	}{
		{"2set identifier", InputSource{ID: "com.apple.inputmethod.Korean.2SetKorean", Name: "2-Set Korean"}, LangKorean},
		{"bare 2set", InputSource{ID: "org.example.2set", Name: ""}, LangKorean},
		{"abc layout", InputSource{ID: "com.apple.keylayout.ABC", Name: "ABC"}, LangEnglish},
		{"hangul name only", InputSource{ID: "com.example.im", Name: "한글"}, LangKorean},
		{"dubeolsik name", InputSource{ID: "x", Name: "두벌식"}, LangKorean},
		{"ibus hangul engine", InputSource{ID: "hangul", Name: "Hangul"}, LangKorean},
		{"windows korean locale", InputSource{ID: "04120412", Name: "Korean"}, LangKorean},
		{"upper-case id", InputSource{ID: "COM.APPLE.INPUTMETHOD.KOREAN", Name: ""}, LangKorean},
		{"japanese is english", InputSource{ID: "com.apple.inputmethod.Kotoeri.Japanese", Name: "Hiragana"}, LangEnglish},
		{"empty", InputSource{}, LangEnglish},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.src).Tag)
		})
	}
}

func TestClassifyDiagnostic(t *testing.T) {
	c := NewClassifier(nil)

	got := c.Classify(InputSource{ID: "com.apple.keylayout.ABC", Name: "ABC"})
	assert.Equal(t, "ID=[com.apple.keylayout.ABC] Name=[ABC]", got.Diagnostic)

	got = c.Classify(InputSource{})
	assert.Equal(t, "ID=[None] Name=[None]", got.Diagnostic)
}

func TestNewClassifierMarkers(t *testing.T) {
	c := NewClassifier([]string{"  Pinyin ", "", "ZHUYIN"})
	assert.Equal(t, []string{"pinyin", "zhuyin"}, c.Markers())

	assert.Equal(t, LangKorean, c.Classify(InputSource{ID: "com.apple.inputmethod.SCIM.ITABC", Name: "Pinyin - Simplified"}).Tag)
	assert.Equal(t, LangEnglish, c.Classify(InputSource{ID: "com.apple.inputmethod.Korean.2SetKorean"}).Tag)

	empty := NewClassifier([]string{" "})
	assert.Equal(t, DefaultKoreanMarkers, empty.Markers())
}

func TestMarkersReturnsCopy(t *testing.T) {
	c := NewClassifier(nil)
	m := c.Markers()
	m[0] = "mutated"
	assert.Equal(t, "korean", c.Markers()[0])
}
