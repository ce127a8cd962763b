package svg

import (
	"fmt"
	"sort"
	"strings"

	"github.com/quadi/qsa-engrave/models"
)

// DefaultQRSize is the QR symbol edge length in millimeters when the element
// config carries no explicit size.
const DefaultQRSize = 3.0

// CarrierModule is one occupied slot on the carrier being composed.
type CarrierModule struct {
	Position      int
	ModuleSKU     string
	SerialInteger int
	LedCodes      []string
}

// ComposeInput is everything the composer needs for one carrier. Element
// origins are expected in the SVG frame (the config store applies the CAD
// Y inversion before handing them over).
type ComposeInput struct {
	QSAID       string
	Rotation    int     // global document rotation: 0, 90, 180 or 270
	TopOffset   float64 // millimeters, positive shifts artwork toward the top edge
	LedTracking float64 // inter-glyph tracking factor for LED code text
	Elements    []models.ElementConfig
	Modules     []CarrierModule
}

type elementKey struct {
	position    int
	elementType string
}

// Compose builds the full engraving document for one carrier. Output is
// byte-stable for identical inputs: element groups are emitted in position
// order, coordinates in a fixed decimal form, and nothing time- or
// randomness-dependent appears in the document.
func Compose(in ComposeInput) ([]byte, error) {
	switch in.Rotation {
	case 0, 90, 180, 270:
	default:
		return nil, models.Faultf(models.CodeInvalidRotation, "rotation %d not in {0, 90, 180, 270}", in.Rotation)
	}
	if len(in.Modules) == 0 {
		return nil, models.NewFault(models.CodeNoModules, "no modules on carrier")
	}

	elems := make(map[elementKey]models.ElementConfig, len(in.Elements))
	for _, e := range in.Elements {
		if e.IsActive {
			elems[elementKey{e.Position, e.ElementType}] = e
		}
	}

	if err := checkLedCodes(elems, in.Modules); err != nil {
		return nil, err
	}

	qrElem, ok := elems[elementKey{0, models.ElementQRCode}]
	if !ok {
		return nil, models.NewFault(models.CodeMissingQRCode, "no qr_code element configured at position 0")
	}

	modules := make([]CarrierModule, len(in.Modules))
	copy(modules, in.Modules)
	sort.Slice(modules, func(i, j int) bool { return modules[i].Position < modules[j].Position })

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<svg width="` + num(models.CanvasWidthMM) + `mm" height="` + num(models.CanvasHeightMM) +
		`mm" viewBox="0 0 ` + num(models.CanvasWidthMM) + ` ` + num(models.CanvasHeightMM) +
		`" xmlns="http://www.w3.org/2000/svg">` + "\n")
	b.WriteString(`<g transform="` + rootTransform(in.Rotation, in.TopOffset) + `">` + "\n")

	qrSize := qrElem.ElementSize
	if qrSize <= 0 {
		qrSize = DefaultQRSize
	}
	qrGroup, err := QRGroup(models.QSAURL(in.QSAID), qrElem.OriginX, qrElem.OriginY, qrElem.Rotation, qrSize)
	if err != nil {
		return nil, err
	}
	b.WriteString(`<g id="qr">` + qrGroup + `</g>` + "\n")

	for _, m := range modules {
		group, err := moduleGroup(elems, m, in.LedTracking)
		if err != nil {
			return nil, err
		}
		b.WriteString(group + "\n")
	}

	b.WriteString("</g>\n</svg>\n")
	return []byte(b.String()), nil
}

// moduleGroup renders every element configured for one occupied position.
func moduleGroup(elems map[elementKey]models.ElementConfig, m CarrierModule, tracking float64) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, `<g id="position-%d">`, m.Position)

	micro, ok := elems[elementKey{m.Position, models.ElementMicroID}]
	if !ok {
		return "", models.Faultf(models.CodeConfigNotFound, "no micro_id element for position %d", m.Position)
	}
	b.WriteString(MicroIDGroup(m.SerialInteger, micro.OriginX, micro.OriginY, micro.Rotation))

	mid, ok := elems[elementKey{m.Position, models.ElementModuleID}]
	if !ok {
		return "", models.Faultf(models.CodeConfigNotFound, "no module_id element for position %d", m.Position)
	}
	b.WriteString(TextGroup(m.ModuleSKU, mid.OriginX, mid.OriginY, mid.Rotation,
		textHeight(mid, ModuleIDHeight), AnchorMiddle, 1.0))

	if su, ok := elems[elementKey{m.Position, models.ElementSerialURL}]; ok {
		b.WriteString(TextGroup(models.SerialURL(m.SerialInteger), su.OriginX, su.OriginY, su.Rotation,
			textHeight(su, SerialURLHeight), AnchorMiddle, 1.0))
	}

	for n := 1; n <= 9; n++ {
		led, ok := elems[elementKey{m.Position, models.LedCodeElement(n)}]
		if !ok {
			continue
		}
		b.WriteString(TextGroup(m.LedCodes[n-1], led.OriginX, led.OriginY, led.Rotation,
			textHeight(led, LedCodeHeight), AnchorMiddle, tracking))
	}

	b.WriteString(`</g>`)
	return b.String(), nil
}

// checkLedCodes verifies every configured led_code_N slot has a valid code on
// its module. All failures are gathered before reporting so the operator sees
// the whole carrier's problems at once.
func checkLedCodes(elems map[elementKey]models.ElementConfig, modules []CarrierModule) error {
	var failures []string
	for _, m := range modules {
		for n := 1; n <= 9; n++ {
			if _, ok := elems[elementKey{m.Position, models.LedCodeElement(n)}]; !ok {
				continue
			}
			if n > len(m.LedCodes) || !models.ValidLedCode(m.LedCodes[n-1]) {
				failures = append(failures, fmt.Sprintf("position %d (%s): led_code_%d", m.Position, m.ModuleSKU, n))
			}
		}
	}
	if len(failures) > 0 {
		return models.Faultf(models.CodeLedResolutionFailed,
			"LED code resolution failed: %s", strings.Join(failures, "; "))
	}
	return nil
}

// rootTransform applies the global document rotation about the canvas center
// and the configured top offset.
func rootTransform(rotation int, topOffset float64) string {
	t := "translate(0," + num(-topOffset) + ")"
	if rotation != 0 {
		t += " rotate(" + num(float64(rotation)) + "," +
			num(models.CanvasWidthMM/2) + "," + num(models.CanvasHeightMM/2) + ")"
	}
	return t
}

func textHeight(e models.ElementConfig, fallback float64) float64 {
	if e.TextHeight > 0 {
		return e.TextHeight
	}
	return fallback
}
