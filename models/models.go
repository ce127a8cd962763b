// Package models defines the persistent entities and shared value types of the
// engraving workflow: serials, batches, modules, QSA identifiers, element
// configuration, and SKU mappings.
//
// These types mirror the rows stored by the `store` package and the payloads
// exchanged with the web UI.
package models

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Layout constants shared across the project.
const (
	// SerialMax is the highest assignable serial integer (20 bits).
	SerialMax = 1<<20 - 1

	// SlotsPerCarrier is the number of module slots on one physical carrier.
	SlotsPerCarrier = 8

	// SequenceMax is the highest per-design QSA sequence (5 decimal digits).
	SequenceMax = 99999

	// CanvasWidthMM and CanvasHeightMM are the carrier dimensions in millimeters.
	CanvasWidthMM  = 148.0
	CanvasHeightMM = 113.7

	// SerialURLHost is the short domain encoded in QR codes and serial URLs.
	SerialURLHost = "quadi.ca"
)

// SerialStatus is the lifecycle state of one reserved serial.
type SerialStatus string

const (
	SerialReserved SerialStatus = "reserved"
	SerialEngraved SerialStatus = "engraved"
	SerialVoided   SerialStatus = "voided"
)

// RowStatus is the lifecycle state of one logical carrier row.
type RowStatus string

const (
	RowPending    RowStatus = "pending"
	RowInProgress RowStatus = "in_progress"
	RowDone       RowStatus = "done"
)

// BatchStatus is the lifecycle state of an engraving batch.
type BatchStatus string

const (
	BatchInProgress BatchStatus = "in_progress"
	BatchCompleted  BatchStatus = "completed"
)

// Serial is one row of the serials relation. Engraved and voided are terminal.
type Serial struct {
	ID            int64        `json:"id"`
	SerialInteger int          `json:"serialInteger"`
	SerialNumber  string       `json:"serialNumber"`
	BatchID       int64        `json:"batchId"`
	ModuleSKU     string       `json:"moduleSku"`
	QsaSequence   int          `json:"qsaSequence"`
	ArrayPosition int          `json:"arrayPosition"`
	Status        SerialStatus `json:"status"`
	CreatedBy     string       `json:"createdBy"`
	CreatedAt     time.Time    `json:"createdAt"`
	EngravedAt    *time.Time   `json:"engravedAt,omitempty"`
	VoidedAt      *time.Time   `json:"voidedAt,omitempty"`
}

// ReservedSerial is the slice element returned by a reservation: the assigned
// serial plus the carrier slot it was reserved for.
type ReservedSerial struct {
	SerialInteger int    `json:"serialInteger"`
	SerialNumber  string `json:"serialNumber"`
	ArrayPosition int    `json:"arrayPosition"`
	ModuleSKU     string `json:"moduleSku"`
}

// Capacity is the serial-pool telemetry returned by the serial store.
type Capacity struct {
	HighestAssigned   int  `json:"highestAssigned"`
	Remaining         int  `json:"remaining"`
	WarningThreshold  int  `json:"warningThreshold"`
	CriticalThreshold int  `json:"criticalThreshold"`
	Warning           bool `json:"warning"`
	Critical          bool `json:"critical"`
}

// Batch is a scheduled engraving session.
type Batch struct {
	ID          int64       `json:"id"`
	Name        string      `json:"name"`
	ModuleCount int         `json:"moduleCount"`
	RowCount    int         `json:"rowCount"`
	Status      BatchStatus `json:"status"`
	CreatedBy   string      `json:"createdBy"`
	CreatedAt   time.Time   `json:"createdAt"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
}

// Module is a single physical LED board inside a batch.
//
// OriginalQsaSequence identifies the logical row the module was created in and
// never changes; QsaSequence is the current physical carrier after any
// redistribution. All modules sharing OriginalQsaSequence share RowStatus.
type Module struct {
	ID                  int64      `json:"id"`
	BatchID             int64      `json:"batchId"`
	ProductionBatchID   string     `json:"productionBatchId"`
	ModuleSKU           string     `json:"moduleSku"`
	OrderID             string     `json:"orderId"`
	SerialNumber        string     `json:"serialNumber,omitempty"`
	QsaSequence         int        `json:"qsaSequence"`
	OriginalQsaSequence int        `json:"originalQsaSequence"`
	ArrayPosition       int        `json:"arrayPosition"`
	RowStatus           RowStatus  `json:"rowStatus"`
	EngravedAt          *time.Time `json:"engravedAt,omitempty"`
}

// Identifier is one issued QSA ID, unique per (batch, qsa_sequence).
type Identifier struct {
	ID             int64     `json:"id"`
	QSAID          string    `json:"qsaId"`
	Design         string    `json:"design"`
	SequenceNumber int       `json:"sequenceNumber"`
	BatchID        int64     `json:"batchId"`
	QsaSequence    int       `json:"qsaSequence"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Element types placed on a carrier. Position 0 is reserved for design-level
// elements (the QR code); positions 1-8 hold per-slot elements.
const (
	ElementMicroID   = "micro_id"
	ElementQRCode    = "qr_code"
	ElementModuleID  = "module_id"
	ElementSerialURL = "serial_url"
)

// LedCodeElement returns the element type name for the n-th LED code (1-based).
func LedCodeElement(n int) string { return fmt.Sprintf("led_code_%d", n) }

// LedCodeIndex returns the 1-based LED code index for an led_code_N element
// type, or 0 if the type is not an LED code element.
func LedCodeIndex(elementType string) int {
	const prefix = "led_code_"
	if !strings.HasPrefix(elementType, prefix) {
		return 0
	}
	n, err := strconv.Atoi(elementType[len(prefix):])
	if err != nil || n < 1 || n > 9 {
		return 0
	}
	return n
}

// ValidElementType reports whether s names a known element type.
func ValidElementType(s string) bool {
	switch s {
	case ElementMicroID, ElementQRCode, ElementModuleID, ElementSerialURL:
		return true
	}
	return LedCodeIndex(s) != 0
}

// ElementConfig is one placement entry for (design, revision, position, type).
//
// Origin coordinates are stored in the CAD frame (bottom-left origin); the
// config store converts to the SVG frame exactly once when serving layout
// lookups to the composer.
type ElementConfig struct {
	ID          int64   `json:"id"`
	Design      string  `json:"design"`
	Revision    string  `json:"revision"` // "" means default for any revision
	Position    int     `json:"position"`
	ElementType string  `json:"elementType"`
	OriginX     float64 `json:"originX"`
	OriginY     float64 `json:"originY"`
	Rotation    float64 `json:"rotation"`
	TextHeight  float64 `json:"textHeight,omitempty"`
	ElementSize float64 `json:"elementSize,omitempty"`
	IsActive    bool    `json:"isActive"`
}

// Match types accepted for SKU mappings, in resolution order after exact
// native-format matches.
const (
	MatchExact  = "exact"
	MatchPrefix = "prefix"
	MatchSuffix = "suffix"
	MatchRegex  = "regex"
)

// SkuMapping maps a legacy SKU pattern to a canonical (design, revision).
// Lower Priority wins among candidates of the same match type.
type SkuMapping struct {
	ID            int64  `json:"id"`
	LegacyPattern string `json:"legacyPattern"`
	MatchType     string `json:"matchType"`
	CanonicalCode string `json:"canonicalCode"`
	Revision      string `json:"revision"` // single lowercase letter or ""
	Priority      int    `json:"priority"`
	IsActive      bool   `json:"isActive"`
}

var (
	designRe    = regexp.MustCompile(`^[A-Z0-9]{1,10}$`)
	revisionRe  = regexp.MustCompile(`^[a-z]$`)
	nativeSKURe = regexp.MustCompile(`^([A-Z]{4})([a-z])?-[0-9]{5}$`)
	qsaIDRe     = regexp.MustCompile(`^([A-Z0-9]{1,10})([0-9]{5})$`)
	serialRe    = regexp.MustCompile(`^[0-9]{8}$`)
	ledCodeRe   = regexp.MustCompile(`^[A-Za-z0-9]{3}$`)
)

// ValidDesign reports whether s is a well-formed design code (after
// normalization to uppercase).
func ValidDesign(s string) bool { return designRe.MatchString(s) }

// ValidRevision reports whether s is a single lowercase revision letter.
// The empty string (no revision) is also accepted.
func ValidRevision(s string) bool { return s == "" || revisionRe.MatchString(s) }

// ValidLedCode reports whether s is a three-character alphanumeric LED code.
func ValidLedCode(s string) bool { return ledCodeRe.MatchString(s) }

// ParseNativeSKU splits a native-format SKU (e.g. STARa-34924) into its design
// and optional revision letter. ok is false for legacy SKUs.
func ParseNativeSKU(sku string) (design, revision string, ok bool) {
	m := nativeSKURe.FindStringSubmatch(sku)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// FormatSerial renders a serial integer in its canonical 8-digit form.
func FormatSerial(n int) string { return fmt.Sprintf("%08d", n) }

// ParseSerial parses the 8-digit zero-padded form back into a serial integer.
// ok is false for malformed strings and out-of-range values.
func ParseSerial(s string) (int, bool) {
	if !serialRe.MatchString(s) {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > SerialMax {
		return 0, false
	}
	return n, true
}

// SerialURL returns the short URL engraved next to each module.
func SerialURL(serialInteger int) string {
	return SerialURLHost + "/" + FormatSerial(serialInteger)
}

// FormatQSAID renders a QSA ID from its design and sequence number.
func FormatQSAID(design string, sequence int) string {
	return fmt.Sprintf("%s%05d", design, sequence)
}

// ParseQSAID splits a QSA ID into design and sequence. The last five digits
// are the sequence; the remainder must be a valid design code. ok is false
// when s is not a well-formed QSA ID.
func ParseQSAID(s string) (design string, sequence int, ok bool) {
	m := qsaIDRe.FindStringSubmatch(s)
	if m == nil {
		return "", 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil || n < 1 {
		return "", 0, false
	}
	return m[1], n, true
}

// QSAURL returns the URL encoded in the carrier QR code.
func QSAURL(qsaID string) string { return SerialURLHost + "/" + qsaID }

// User is an operator account. Passwords are stored as bcrypt hashes.
type User struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}
