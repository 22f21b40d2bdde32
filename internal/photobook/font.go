package photobook

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/sfnt"
)

// captionFamily is the name the embedded Go Regular face is registered under.
const captionFamily = "goregular"

var captionFace = sync.OnceValues(func() (*sfnt.Font, error) {
	return sfnt.Parse(goregular.TTF)
})

// uncoveredRunes returns, once each and in order of appearance, the runes of
// s that the caption face has no glyph for.
func uncoveredRunes(s string) []rune {
	face, err := captionFace()
	if err != nil {
		return nil
	}

	var (
		buf  sfnt.Buffer
		seen map[rune]bool
		out  []rune
	)
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) || seen[r] {
			continue
		}
		if idx, err := face.GlyphIndex(&buf, r); err == nil && idx != 0 {
			continue
		}
		if seen == nil {
			seen = make(map[rune]bool)
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

// drawable replaces runes outside the Basic Multilingual Plane with '?'. The
// document writer's glyph width table only spans the BMP.
func drawable(s string) string {
	return strings.Map(func(r rune) rune {
		if r > 0xFFFF {
			return '?'
		}
		return r
	}, s)
}
