package svg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quadi/qsa-engrave/models"
)

func TestEncodeQRVersionSelection(t *testing.T) {
	// 14 bytes fit version 1 (21 modules); 15 need version 2 (25).
	m := encodeQR(strings.Repeat("x", 14))
	require.NotNil(t, m)
	assert.Len(t, m, 21)

	m = encodeQR(strings.Repeat("x", 15))
	require.NotNil(t, m)
	assert.Len(t, m, 25)

	m = encodeQR(strings.Repeat("x", 213))
	require.NotNil(t, m)
	assert.Len(t, m, 57) // version 10

	assert.Nil(t, encodeQR(strings.Repeat("x", 214)))
}

func TestEncodeQRStructure(t *testing.T) {
	m := encodeQR(models.QSAURL("STAR00001"))
	require.NotNil(t, m)
	n := len(m)

	// Finder pattern centers are dark in all three corners.
	for _, rc := range [][2]int{{3, 3}, {3, n - 4}, {n - 4, 3}} {
		assert.True(t, m[rc[0]][rc[1]], "finder center at %v", rc)
	}
	// Finder separators (row 7 under the top-left finder) are light.
	assert.False(t, m[7][3])
	assert.False(t, m[3][7])

	// Timing patterns alternate starting dark at even indices.
	for i := 8; i < n-8; i++ {
		assert.Equal(t, i%2 == 0, m[6][i], "timing row at %d", i)
		assert.Equal(t, i%2 == 0, m[i][6], "timing col at %d", i)
	}

	// Dark module.
	assert.True(t, m[n-8][8])
}

func TestEncodeQRIsDeterministic(t *testing.T) {
	a := encodeQR("quadi.ca/STAR00042")
	b := encodeQR("quadi.ca/STAR00042")
	assert.Equal(t, a, b)
	// And sensitive to the payload.
	c := encodeQR("quadi.ca/STAR00043")
	assert.NotEqual(t, a, c)
}

func TestQRFormatBits(t *testing.T) {
	// Published 15-bit format string for EC M, mask 0.
	assert.Equal(t, 0b101010000010010, qrFormatBits(0b00, 0))
}

func TestEncodeQRFormatPlacement(t *testing.T) {
	formatBits := qrFormatBits(0b00, 0)
	// Versions 1 and 2; the placement must not depend on symbol size.
	for _, payload := range []string{models.QSAURL("STAR00001"), strings.Repeat("x", 15)} {
		m := encodeQR(payload)
		require.NotNil(t, m)
		n := len(m)

		for i := 0; i < 15; i++ {
			bit := formatBits>>(14-i)&1 == 1

			// First copy around the top-left finder, skipping the timing
			// row and column.
			var r1, c1 int
			switch {
			case i < 6:
				r1, c1 = 8, i
			case i == 6:
				r1, c1 = 8, 7
			case i == 7:
				r1, c1 = 8, 8
			case i == 8:
				r1, c1 = 7, 8
			default:
				r1, c1 = 14-i, 8
			}
			assert.Equal(t, bit, m[r1][c1], "first copy bit %d at (%d,%d)", i, r1, c1)

			// Second copy: bits 0-6 up column 8, bits 7-14 across row 8.
			if i < 7 {
				assert.Equal(t, bit, m[n-1-i][8], "second copy bit %d", i)
			} else {
				assert.Equal(t, bit, m[8][n-15+i], "second copy bit %d", i)
			}
		}

		// The fixed dark module sits between the two column-8 runs and must
		// not be overwritten by either copy.
		assert.True(t, m[n-8][8])
	}
}

func TestReedSolomonKnownVector(t *testing.T) {
	// Classic "HELLO WORLD" example block: checked against the published
	// generator-polynomial worked example (version 1-M uses 10 EC codewords).
	data := []byte{
		0x20, 0x5B, 0x0B, 0x78, 0xD1, 0x72, 0xDC, 0x4D,
		0x43, 0x40, 0xEC, 0x11, 0xEC, 0x11, 0xEC, 0x11,
	}
	ec := reedSolomonEC(data, 10)
	assert.Equal(t, []byte{0xC4, 0x23, 0x27, 0x77, 0xEB, 0xD7, 0xE7, 0xE2, 0x5D, 0x17}, ec)
}

func TestQRGroup(t *testing.T) {
	g, err := QRGroup("quadi.ca/STAR00001", 70, 50, 0, 3.0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(g, `<g transform="translate(70,50) scale(`), g)
	assert.Contains(t, g, `h1v1h-1z`)
	assert.Contains(t, g, `fill="#000"`)

	// Scale spans the symbol across the element size.
	m := encodeQR("quadi.ca/STAR00001")
	assert.Contains(t, g, "scale("+num(3.0/float64(len(m)))+")")

	_, err = QRGroup(strings.Repeat("x", 300), 0, 0, 0, 3.0)
	assert.True(t, models.IsCode(err, models.CodeInvalidParams))
}
