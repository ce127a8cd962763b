package svg

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countCircles(group string) int {
	return strings.Count(group, "<circle")
}

func TestMicroDataSlots(t *testing.T) {
	require.Len(t, microDataSlots, 21)
	// Row-major, corners skipped: slot 0 is (0,1), slot 20 is (4,3).
	assert.Equal(t, [2]int{0, 1}, microDataSlots[0])
	assert.Equal(t, [2]int{4, 3}, microDataSlots[20])
	for _, slot := range microDataSlots {
		corner := (slot[0] == 0 || slot[0] == 4) && (slot[1] == 0 || slot[1] == 4)
		assert.False(t, corner, "slot %v is a corner anchor", slot)
	}
}

func TestMicroParity(t *testing.T) {
	assert.Equal(t, 1, microParity(1))
	assert.Equal(t, 0, microParity(3))
	assert.Equal(t, 0, microParity(0))
	assert.Equal(t, 0, microParity(0xFFFFF)) // 20 ones
	// Only the low 20 bits participate.
	assert.Equal(t, microParity(5), microParity(5|1<<20))
}

func TestMicroIDGroupSerialOne(t *testing.T) {
	g := MicroIDGroup(1, 0, 0, 0)

	// Marker + 4 anchors + data bit 0 + parity bit.
	assert.Equal(t, 7, countCircles(g))

	// Orientation marker, outside the grid.
	assert.Contains(t, g, `cx="-0.175" cy="0.05"`)
	// Corner anchors.
	assert.Contains(t, g, `cx="0.05" cy="0.05"`)
	assert.Contains(t, g, `cx="0.95" cy="0.05"`)
	assert.Contains(t, g, `cx="0.05" cy="0.95"`)
	assert.Contains(t, g, `cx="0.95" cy="0.95"`)
	// Bit 0 at (row 0, col 1).
	assert.Contains(t, g, `cx="0.275" cy="0.05"`)
	// Parity at (row 4, col 3).
	assert.Contains(t, g, `cx="0.725" cy="0.95"`)
}

func TestMicroIDDotCountFollowsParity(t *testing.T) {
	// Data dots including parity are always even in number.
	for _, serial := range []int{1, 2, 3, 7, 42, 99999, 1<<20 - 1} {
		g := MicroIDGroup(serial, 0, 0, 0)
		dataDots := countCircles(g) - 5 // minus marker and anchors
		assert.Zero(t, dataDots%2, "serial %d has %d data dots", serial, dataDots)
	}
}

func TestMicroIDGroupPlacement(t *testing.T) {
	g := MicroIDGroup(1, 12.5, 30.75, 90)
	assert.True(t, strings.HasPrefix(g, `<g transform="translate(12.5,30.75) rotate(90)">`), g)

	// No rotation attribute when rot is zero.
	g = MicroIDGroup(1, 1, 2, 0)
	assert.Contains(t, g, `transform="translate(1,2)"`)
	assert.NotContains(t, g, "rotate")
}

func TestMicroIDGroupIsDeterministic(t *testing.T) {
	a := MicroIDGroup(123456, 10, 20, 180)
	b := MicroIDGroup(123456, 10, 20, 180)
	assert.Equal(t, a, b)
}

func TestNum(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{1, "1"},
		{math.Copysign(0, -1), "0"},
		{0.05, "0.05"},
		{0.22500, "0.225"},
		{1.00004, "1"},
		{1.00006, "1.0001"},
		{-0.00004, "0"}, // rounds to negative zero, normalized
		{148, "148"},
		{113.7, "113.7"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, num(c.in), "num(%v)", c.in)
	}
}
