package svg

import "strings"

// Text anchors, mirroring the SVG text-anchor values.
const (
	AnchorStart  = "start"
	AnchorMiddle = "middle"
	AnchorEnd    = "end"
)

// Default text heights in millimeters.
const (
	ModuleIDHeight  = 1.5
	SerialURLHeight = 1.2
	LedCodeHeight   = 1.0
)

// textWidth returns the advance width of s in glyph units under the given
// tracking factor. The trailing gap after the last glyph is not counted.
func textWidth(s string, tracking float64) float64 {
	w := 0.0
	for i, r := range []rune(s) {
		if i > 0 {
			w += glyphGap * tracking
		}
		w += glyphFor(r).width
	}
	return w
}

// TextGroup renders s as stroked polylines: one SVG group at (x, y) rotated
// rot degrees, scaled so the cap height equals height millimeters. The origin
// sits on the baseline; anchor shifts the text left of it for middle and end.
// tracking multiplies the inter-glyph gap and is 1.0 for everything except
// LED codes.
func TextGroup(s string, x, y, rot, height float64, anchor string, tracking float64) string {
	if s == "" {
		return ""
	}
	if tracking <= 0 {
		tracking = 1.0
	}
	scale := height / glyphCapHeight

	startX := 0.0
	switch anchor {
	case AnchorMiddle:
		startX = -textWidth(s, tracking) / 2
	case AnchorEnd:
		startX = -textWidth(s, tracking)
	}

	var b strings.Builder
	b.WriteString(`<g transform="` + placeTransform(x, y, rot) + `"><path d="`)
	penX := startX
	for i, r := range []rune(s) {
		if i > 0 {
			penX += glyphGap * tracking
		}
		g := glyphFor(r)
		for _, stroke := range g.strokes {
			for p := 0; p+1 < len(stroke); p += 2 {
				gx := (penX + stroke[p]) * scale
				gy := (stroke[p+1] - glyphCapHeight) * scale
				if p == 0 {
					b.WriteString("M" + num(gx) + "," + num(gy))
				} else {
					b.WriteString("L" + num(gx) + "," + num(gy))
				}
			}
		}
		penX += g.width
	}
	b.WriteString(`" fill="none" stroke="#000" stroke-width="` + num(strokeWidth(height)) +
		`" stroke-linecap="round" stroke-linejoin="round"/></g>`)
	return b.String()
}

// strokeWidth derives the engraved line width from the text height. The
// laser kerf dominates below 0.1 mm, so that is the floor.
func strokeWidth(height float64) float64 {
	w := height * 0.1
	if w < 0.1 {
		w = 0.1
	}
	return w
}
