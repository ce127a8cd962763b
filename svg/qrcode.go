package svg

import (
	"strconv"
	"strings"

	"github.com/quadi/qsa-engrave/models"
)

// QR encoder: byte mode, versions 1-10, error correction level M, fixed
// mask 0. The payloads here are short serial URLs, so version 1 or 2 covers
// every real input; the higher versions exist so a long host name cannot
// break composition.

// qrByteCapacity[v] is the byte-mode payload capacity of version v at EC M.
var qrByteCapacity = []int{0, 14, 26, 42, 62, 84, 106, 122, 152, 180, 213}

// qrDataCodewords[v] is the total data codeword count at EC M.
var qrDataCodewords = []int{0, 16, 28, 44, 64, 86, 108, 124, 154, 182, 216}

// qrECCodewords[v] is the EC codeword count per block at EC M.
var qrECCodewords = []int{0, 10, 16, 26, 18, 24, 16, 18, 22, 22, 26}

// qrAlignment[v] lists alignment pattern center coordinates.
var qrAlignment = [][]int{
	nil, nil,
	{6, 18}, {6, 22}, {6, 26}, {6, 30}, {6, 34},
	{6, 22, 38}, {6, 24, 42}, {6, 26, 46}, {6, 28, 50},
}

type bitBuffer struct {
	bits []bool
}

func (b *bitBuffer) put(value, length int) {
	for i := length - 1; i >= 0; i-- {
		b.bits = append(b.bits, value>>i&1 == 1)
	}
}

// encodeQR builds the module matrix for data. Returns nil when data exceeds
// the version-10 capacity.
func encodeQR(data string) [][]bool {
	payload := []byte(data)
	version := 0
	for v := 1; v < len(qrByteCapacity); v++ {
		if len(payload) <= qrByteCapacity[v] {
			version = v
			break
		}
	}
	if version == 0 {
		return nil
	}

	n := 17 + version*4
	modules := make([][]bool, n)
	reserved := make([][]bool, n)
	for i := range modules {
		modules[i] = make([]bool, n)
		reserved[i] = make([]bool, n)
	}

	placeFinder := func(row, col int) {
		for r := -1; r <= 7; r++ {
			for c := -1; c <= 7; c++ {
				rr, cc := row+r, col+c
				if rr < 0 || rr >= n || cc < 0 || cc >= n {
					continue
				}
				dark := (r >= 0 && r <= 6 && (c == 0 || c == 6)) ||
					(c >= 0 && c <= 6 && (r == 0 || r == 6)) ||
					(r >= 2 && r <= 4 && c >= 2 && c <= 4)
				modules[rr][cc] = dark
				reserved[rr][cc] = true
			}
		}
	}
	placeFinder(0, 0)
	placeFinder(0, n-7)
	placeFinder(n-7, 0)

	for i := 8; i < n-8; i++ {
		modules[6][i] = i%2 == 0
		reserved[6][i] = true
		modules[i][6] = i%2 == 0
		reserved[i][6] = true
	}

	// Dark module.
	modules[n-8][8] = true
	reserved[n-8][8] = true

	for _, r := range qrAlignment[version] {
		for _, c := range qrAlignment[version] {
			if reserved[r][c] {
				continue
			}
			for dr := -2; dr <= 2; dr++ {
				for dc := -2; dc <= 2; dc++ {
					dark := dr == -2 || dr == 2 || dc == -2 || dc == 2 || (dr == 0 && dc == 0)
					modules[r+dr][c+dc] = dark
					reserved[r+dr][c+dc] = true
				}
			}
		}
	}

	// Format info areas stay reserved during data placement.
	for i := 0; i < 8; i++ {
		reserved[8][i] = true
		reserved[8][n-1-i] = true
		reserved[i][8] = true
		reserved[n-1-i][8] = true
	}
	reserved[8][8] = true

	buf := &bitBuffer{}
	buf.put(0b0100, 4) // byte mode
	if version <= 9 {
		buf.put(len(payload), 8)
	} else {
		buf.put(len(payload), 16)
	}
	for _, b := range payload {
		buf.put(int(b), 8)
	}
	buf.put(0, 4)
	for len(buf.bits)%8 != 0 {
		buf.put(0, 1)
	}
	total := qrDataCodewords[version]
	pad := []int{0xEC, 0x11}
	for i := 0; len(buf.bits)/8 < total; i++ {
		buf.put(pad[i%2], 8)
	}

	codewords := make([]byte, total)
	for i := range codewords {
		for bit := 0; bit < 8; bit++ {
			if buf.bits[i*8+bit] {
				codewords[i] |= 1 << (7 - bit)
			}
		}
	}
	all := append(codewords, reedSolomonEC(codewords, qrECCodewords[version])...)

	allBits := &bitBuffer{}
	for _, b := range all {
		allBits.put(int(b), 8)
	}

	// Zigzag placement, right to left, skipping the timing column.
	bitIdx := 0
	for col := n - 1; col >= 0; col -= 2 {
		if col == 6 {
			col = 5
		}
		for row := 0; row < n; row++ {
			for c := 0; c < 2; c++ {
				cc := col - c
				rr := row
				if ((col+1)/2)%2 == 0 {
					rr = n - 1 - row
				}
				if reserved[rr][cc] {
					continue
				}
				if bitIdx < len(allBits.bits) {
					modules[rr][cc] = allBits.bits[bitIdx]
					bitIdx++
				}
			}
		}
	}

	// Mask 0: invert where (row+col) is even.
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			if !reserved[r][c] && (r+c)%2 == 0 {
				modules[r][c] = !modules[r][c]
			}
		}
	}

	formatBits := qrFormatBits(0b00, 0) // EC M, mask 0
	for i := 0; i < 15; i++ {
		bit := formatBits>>(14-i)&1 == 1
		switch {
		case i < 6:
			modules[8][i] = bit
		case i == 6:
			modules[8][7] = bit
		case i == 7:
			modules[8][8] = bit
		case i == 8:
			modules[7][8] = bit
		default:
			modules[14-i][8] = bit
		}
		// Second copy: bits 0-6 up column 8, bits 7-14 across the bottom
		// of row 8. The cell above the split is the fixed dark module.
		if i < 7 {
			modules[n-1-i][8] = bit
		} else {
			modules[8][n-15+i] = bit
		}
	}

	return modules
}

// qrFormatBits computes the 15-bit format string: 5 data bits plus 10 BCH
// bits, XORed with the fixed mask pattern.
func qrFormatBits(ecLevel, mask int) int {
	data := ecLevel<<3 | mask
	bits := data << 10
	for i := 14; i >= 10; i-- {
		if bits&(1<<i) != 0 {
			bits ^= 0x537 << (i - 10)
		}
	}
	return (data<<10 | bits) ^ 0x5412
}

// GF(256) tables over the QR primitive polynomial 0x11d.
var gfExp [512]byte
var gfLog [256]byte

func init() {
	x := 1
	for i := 0; i < 255; i++ {
		gfExp[i] = byte(x)
		gfLog[x] = byte(i)
		x <<= 1
		if x >= 256 {
			x ^= 0x11d
		}
	}
	for i := 255; i < 512; i++ {
		gfExp[i] = gfExp[i-255]
	}
}

func gfMul(a, b byte) byte {
	if a == 0 || b == 0 {
		return 0
	}
	return gfExp[int(gfLog[a])+int(gfLog[b])]
}

func rsGeneratorPoly(degree int) []byte {
	gen := []byte{1}
	for i := 0; i < degree; i++ {
		next := make([]byte, len(gen)+1)
		for j := 0; j < len(gen); j++ {
			next[j] ^= gen[j]
			next[j+1] ^= gfMul(gen[j], gfExp[i])
		}
		gen = next
	}
	return gen
}

// reedSolomonEC computes ecCount error-correction codewords by polynomial
// division in GF(256).
func reedSolomonEC(data []byte, ecCount int) []byte {
	gen := rsGeneratorPoly(ecCount)
	work := make([]byte, len(data)+ecCount)
	copy(work, data)
	for i := 0; i < len(data); i++ {
		coeff := work[i]
		if coeff == 0 {
			continue
		}
		for j := 0; j < len(gen); j++ {
			work[i+j] ^= gfMul(gen[j], coeff)
		}
	}
	return work[len(data):]
}

// QRGroup renders a QR code encoding data as an SVG group: placed at (x, y),
// rotated rot degrees, scaled so the symbol spans sizeMM millimeters. The
// dark modules collapse into one path in module units.
func QRGroup(data string, x, y, rot, sizeMM float64) (string, error) {
	modules := encodeQR(data)
	if modules == nil {
		return "", models.Faultf(models.CodeInvalidParams, "QR payload too long: %d bytes", len(data))
	}
	n := len(modules)
	scale := sizeMM / float64(n)

	var b strings.Builder
	b.WriteString(`<g transform="` + placeTransform(x, y, rot) +
		` scale(` + num(scale) + `)"><path d="`)
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			if modules[row][col] {
				b.WriteString("M" + strconv.Itoa(col) + "," + strconv.Itoa(row) + "h1v1h-1z")
			}
		}
	}
	b.WriteString(`" fill="#000"/></g>`)
	return b.String(), nil
}
