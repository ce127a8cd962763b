package svg

// Single-stroke engraving font. Glyphs are polylines on a unit grid: cap
// height 6, baseline at y=6, y grows downward as in SVG. Most glyphs are 4
// units wide; advance is glyph width + 1. The character set is exactly what
// the engraver ever prints: A-Z, the revision letter 'a', 0-9, and ". - / :".

type glyph struct {
	width   float64
	strokes [][]float64 // each stroke: x0,y0, x1,y1, ...
}

const (
	glyphCapHeight = 6.0
	glyphGap       = 1.0
)

var glyphs = map[rune]glyph{
	'A': {4, [][]float64{{0, 6, 2, 0, 4, 6}, {1, 4, 3, 4}}},
	'B': {4, [][]float64{{0, 0, 0, 6}, {0, 0, 3, 0, 4, 1, 4, 2, 3, 3, 0, 3}, {3, 3, 4, 4, 4, 5, 3, 6, 0, 6}}},
	'C': {4, [][]float64{{4, 1, 3, 0, 1, 0, 0, 1, 0, 5, 1, 6, 3, 6, 4, 5}}},
	'D': {4, [][]float64{{0, 0, 0, 6}, {0, 0, 3, 0, 4, 1, 4, 5, 3, 6, 0, 6}}},
	'E': {4, [][]float64{{4, 0, 0, 0, 0, 6, 4, 6}, {0, 3, 3, 3}}},
	'F': {4, [][]float64{{4, 0, 0, 0, 0, 6}, {0, 3, 3, 3}}},
	'G': {4, [][]float64{{4, 1, 3, 0, 1, 0, 0, 1, 0, 5, 1, 6, 3, 6, 4, 5, 4, 3, 2, 3}}},
	'H': {4, [][]float64{{0, 0, 0, 6}, {4, 0, 4, 6}, {0, 3, 4, 3}}},
	'I': {2, [][]float64{{0, 0, 2, 0}, {1, 0, 1, 6}, {0, 6, 2, 6}}},
	'J': {4, [][]float64{{4, 0, 4, 5, 3, 6, 1, 6, 0, 5}}},
	'K': {4, [][]float64{{0, 0, 0, 6}, {4, 0, 0, 3, 4, 6}}},
	'L': {4, [][]float64{{0, 0, 0, 6, 4, 6}}},
	'M': {4, [][]float64{{0, 6, 0, 0, 2, 3, 4, 0, 4, 6}}},
	'N': {4, [][]float64{{0, 6, 0, 0, 4, 6, 4, 0}}},
	'O': {4, [][]float64{{1, 0, 3, 0, 4, 1, 4, 5, 3, 6, 1, 6, 0, 5, 0, 1, 1, 0}}},
	'P': {4, [][]float64{{0, 6, 0, 0, 3, 0, 4, 1, 4, 2, 3, 3, 0, 3}}},
	'Q': {4, [][]float64{{1, 0, 3, 0, 4, 1, 4, 5, 3, 6, 1, 6, 0, 5, 0, 1, 1, 0}, {2.5, 4.5, 4, 6}}},
	'R': {4, [][]float64{{0, 6, 0, 0, 3, 0, 4, 1, 4, 2, 3, 3, 0, 3}, {2, 3, 4, 6}}},
	'S': {4, [][]float64{{4, 1, 3, 0, 1, 0, 0, 1, 0, 2, 1, 3, 3, 3, 4, 4, 4, 5, 3, 6, 1, 6, 0, 5}}},
	'T': {4, [][]float64{{0, 0, 4, 0}, {2, 0, 2, 6}}},
	'U': {4, [][]float64{{0, 0, 0, 5, 1, 6, 3, 6, 4, 5, 4, 0}}},
	'V': {4, [][]float64{{0, 0, 2, 6, 4, 0}}},
	'W': {4, [][]float64{{0, 0, 1, 6, 2, 2, 3, 6, 4, 0}}},
	'X': {4, [][]float64{{0, 0, 4, 6}, {4, 0, 0, 6}}},
	'Y': {4, [][]float64{{0, 0, 2, 3, 4, 0}, {2, 3, 2, 6}}},
	'Z': {4, [][]float64{{0, 0, 4, 0, 0, 6, 4, 6}}},

	// Revision suffix: an x-height 'a'.
	'a': {4, [][]float64{{4, 2, 1, 2, 0, 3, 0, 5, 1, 6, 4, 6}, {4, 2, 4, 6}}},

	'0': {4, [][]float64{{1, 0, 3, 0, 4, 1, 4, 5, 3, 6, 1, 6, 0, 5, 0, 1, 1, 0}, {1, 5, 3, 1}}},
	'1': {4, [][]float64{{1, 1, 2, 0, 2, 6}, {1, 6, 3, 6}}},
	'2': {4, [][]float64{{0, 1, 1, 0, 3, 0, 4, 1, 4, 2, 0, 6, 4, 6}}},
	'3': {4, [][]float64{{0, 1, 1, 0, 3, 0, 4, 1, 4, 2, 3, 3, 1, 3}, {3, 3, 4, 4, 4, 5, 3, 6, 1, 6, 0, 5}}},
	'4': {4, [][]float64{{3, 0, 0, 4, 4, 4}, {3, 0, 3, 6}}},
	'5': {4, [][]float64{{4, 0, 0, 0, 0, 3, 3, 3, 4, 4, 4, 5, 3, 6, 1, 6, 0, 5}}},
	'6': {4, [][]float64{{4, 1, 3, 0, 1, 0, 0, 1, 0, 5, 1, 6, 3, 6, 4, 5, 4, 4, 3, 3, 0, 3}}},
	'7': {4, [][]float64{{0, 0, 4, 0, 1, 6}}},
	'8': {4, [][]float64{{1, 0, 3, 0, 4, 1, 4, 2, 3, 3, 1, 3, 0, 2, 0, 1, 1, 0}, {1, 3, 0, 4, 0, 5, 1, 6, 3, 6, 4, 5, 4, 4, 3, 3}}},
	'9': {4, [][]float64{{0, 5, 1, 6, 3, 6, 4, 5, 4, 1, 3, 0, 1, 0, 0, 1, 0, 2, 1, 3, 4, 3}}},

	'.': {1, [][]float64{{0.5, 5.5, 0.5, 6}}},
	'-': {3, [][]float64{{0, 3, 3, 3}}},
	'/': {4, [][]float64{{4, 0, 0, 6}}},
	':': {1, [][]float64{{0.5, 1.5, 0.5, 2}, {0.5, 4.5, 0.5, 5}}},
}

// glyphFor returns the glyph for r. Unknown runes map to '-' so a bad input
// still produces visible, scannably wrong output instead of silence.
func glyphFor(r rune) glyph {
	if g, ok := glyphs[r]; ok {
		return g
	}
	return glyphs['-']
}
