// Package svg composes the engraving document: Micro-ID dot codes, the
// carrier QR code, and stroked text paths laid out on a fixed millimeter
// canvas. The package is pure; callers persist the bytes.
package svg

import (
	"math"
	"strconv"
	"strings"
)

// Micro-ID geometry, millimeters. A 5x5 dot grid spans 1.0 mm: dot radius
// 0.05 on each edge plus four 0.225 pitches between centers.
const (
	microGridSize  = 5
	microDotPitch  = 0.225
	microDotRadius = 0.05

	// The orientation marker sits outside the grid, left of the top-left
	// anchor.
	microMarkerX = -0.175
	microMarkerY = 0.05

	microDataBits = 20
)

// microDataSlots lists the 21 data-carrying (row, col) slots in left-to-right
// top-to-bottom order, skipping the four always-on corner anchors. Slot 0
// carries bit 0 of the serial; slot 20 carries the parity bit.
var microDataSlots = buildMicroDataSlots()

func buildMicroDataSlots() [][2]int {
	var slots [][2]int
	for row := 0; row < microGridSize; row++ {
		for col := 0; col < microGridSize; col++ {
			if (row == 0 || row == microGridSize-1) && (col == 0 || col == microGridSize-1) {
				continue
			}
			slots = append(slots, [2]int{row, col})
		}
	}
	return slots
}

// microParity returns the even-parity bit for a 20-bit value: 1 when the
// popcount of the data bits is odd, so data plus parity always has an even
// number of ON dots.
func microParity(serial int) int {
	return popcount(serial&((1<<microDataBits)-1)) & 1
}

func popcount(v int) int {
	n := 0
	for v != 0 {
		v &= v - 1
		n++
	}
	return n
}

// microDotCenter returns the center of the dot at (row, col) relative to the
// grid origin.
func microDotCenter(row, col int) (x, y float64) {
	return microDotRadius + float64(col)*microDotPitch,
		microDotRadius + float64(row)*microDotPitch
}

// MicroIDGroup renders the Micro-ID for one serial as an SVG group translated
// to (x, y) and rotated by rot degrees about its own origin. The four corner
// anchors and the orientation marker are always on; the 21 interior slots
// carry the serial bits and the parity bit.
func MicroIDGroup(serial int, x, y, rot float64) string {
	var b strings.Builder
	b.WriteString(`<g transform="` + placeTransform(x, y, rot) + `">`)

	circle := func(cx, cy float64) {
		b.WriteString(`<circle cx="` + num(cx) + `" cy="` + num(cy) +
			`" r="` + num(microDotRadius) + `" fill="#000"/>`)
	}

	circle(microMarkerX, microMarkerY)
	last := microGridSize - 1
	for _, rc := range [][2]int{{0, 0}, {0, last}, {last, 0}, {last, last}} {
		cx, cy := microDotCenter(rc[0], rc[1])
		circle(cx, cy)
	}

	bits := serial | microParity(serial)<<microDataBits
	for i, slot := range microDataSlots {
		if bits>>i&1 == 0 {
			continue
		}
		cx, cy := microDotCenter(slot[0], slot[1])
		circle(cx, cy)
	}

	b.WriteString(`</g>`)
	return b.String()
}

// placeTransform builds the translate+rotate transform shared by every
// placed element group. Rotation is about the element origin.
func placeTransform(x, y, rot float64) string {
	t := "translate(" + num(x) + "," + num(y) + ")"
	if rot != 0 {
		t += " rotate(" + num(rot) + ")"
	}
	return t
}

// num formats a coordinate deterministically: rounded to 4 decimals, shortest
// decimal form, no exponent. Identical inputs must yield identical bytes.
func num(v float64) string {
	v = math.Round(v*10000) / 10000
	if v == 0 {
		// Normalize negative zero.
		v = 0
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
