package svg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextWidth(t *testing.T) {
	// Two 4-wide glyphs plus one gap.
	assert.Equal(t, 9.0, textWidth("AB", 1.0))
	// Tracking scales only the gap.
	assert.Equal(t, 10.0, textWidth("AB", 2.0))
	assert.Equal(t, 4.0, textWidth("A", 1.0))
	assert.Zero(t, textWidth("", 1.0))
}

func TestGlyphCoverage(t *testing.T) {
	for _, r := range "ABCDEFGHIJKLMNOPQRSTUVWXYZa0123456789.-/:" {
		g, ok := glyphs[r]
		require.True(t, ok, "missing glyph %q", r)
		assert.NotEmpty(t, g.strokes, "glyph %q has no strokes", r)
		for _, stroke := range g.strokes {
			assert.Zero(t, len(stroke)%2, "glyph %q stroke has odd coordinate count", r)
			assert.GreaterOrEqual(t, len(stroke), 4, "glyph %q stroke too short", r)
		}
	}
	// Unknown runes fall back rather than vanish.
	assert.NotEmpty(t, glyphFor('~').strokes)
}

func TestTextGroupBaselineOrigin(t *testing.T) {
	// 'L' at height 6 (scale 1): bottom-left corner lands on the origin and
	// the cap rises to y=-6.
	g := TextGroup("L", 0, 0, 0, 6, AnchorStart, 1.0)
	assert.Contains(t, g, "M0,-6")
	assert.Contains(t, g, "L0,0")
	assert.Contains(t, g, "L4,0")
	assert.Contains(t, g, `stroke-width="0.6"`)
	assert.Contains(t, g, `fill="none"`)
}

func TestTextGroupScalesToHeight(t *testing.T) {
	g := TextGroup("L", 0, 0, 0, 1.5, AnchorStart, 1.0)
	// scale = 1.5/6 = 0.25
	assert.Contains(t, g, "M0,-1.5")
	assert.Contains(t, g, "L1,0")
	// Stroke width floors at the laser kerf.
	assert.Contains(t, g, `stroke-width="0.15"`)

	g = TextGroup("L", 0, 0, 0, 0.5, AnchorStart, 1.0)
	assert.Contains(t, g, `stroke-width="0.1"`)
}

func TestTextGroupAnchors(t *testing.T) {
	// "T" is 4 wide; middle anchor shifts the pen left by half the width.
	start := TextGroup("T", 0, 0, 0, 6, AnchorStart, 1.0)
	assert.Contains(t, start, "M0,-6L4,-6")

	middle := TextGroup("T", 0, 0, 0, 6, AnchorMiddle, 1.0)
	assert.Contains(t, middle, "M-2,-6L2,-6")

	end := TextGroup("T", 0, 0, 0, 6, AnchorEnd, 1.0)
	assert.Contains(t, end, "M-4,-6L0,-6")
}

func TestTextGroupPlacementAndEmpty(t *testing.T) {
	g := TextGroup("A", 10, 20, 90, 1.5, AnchorStart, 1.0)
	assert.True(t, strings.HasPrefix(g, `<g transform="translate(10,20) rotate(90)">`), g)

	assert.Empty(t, TextGroup("", 0, 0, 0, 1.5, AnchorStart, 1.0))
}

func TestTextGroupTracking(t *testing.T) {
	// Second glyph starts after width + tracking*gap.
	tight := TextGroup("II", 0, 0, 0, 6, AnchorStart, 1.0)
	assert.Contains(t, tight, "M3,-6") // 2 (I width) + 1 gap
	loose := TextGroup("II", 0, 0, 0, 6, AnchorStart, 2.0)
	assert.Contains(t, loose, "M4,-6") // 2 + 2

	// Non-positive tracking falls back to 1.0.
	assert.Equal(t, tight, TextGroup("II", 0, 0, 0, 6, AnchorStart, 0))
}

func TestStrokeWidth(t *testing.T) {
	assert.InDelta(t, 0.15, strokeWidth(1.5), 1e-9)
	assert.InDelta(t, 0.1, strokeWidth(1.0), 1e-9)
	assert.InDelta(t, 0.1, strokeWidth(0.2), 1e-9)
	// The rendered attribute goes through the shared formatter.
	assert.Equal(t, "0.15", num(strokeWidth(1.5)))
}
