package store

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/quadi/qsa-engrave/models"
)

// ConfigStore manages element coordinate tables per (design, revision,
// position).
//
// Coordinates are stored in the CAD frame (bottom-left origin, millimeters).
// GetConfig converts Y to the SVG frame exactly once at this read boundary so
// the composer only ever sees SVG coordinates.
type ConfigStore struct {
	db  *sql.DB
	log *logrus.Entry
}

func NewConfigStore(db *sql.DB, log *logrus.Logger) *ConfigStore {
	return &ConfigStore{db: db, log: log.WithField("store", "configs")}
}

// GetConfig returns active elements for the design keyed by position then
// element type, with the revision fallback policy:
// exact revision > no-revision default > any revision (first by revision
// order). A warning is logged whenever a fallback is used.
func (s *ConfigStore) GetConfig(ctx context.Context, design, revision string) (map[int]map[string]models.ElementConfig, error) {
	design = strings.ToUpper(strings.TrimSpace(design))

	tryRevisions := []string{revision}
	if revision != "" {
		tryRevisions = append(tryRevisions, "")
	}
	for _, rev := range tryRevisions {
		cfg, err := s.loadRevision(ctx, design, rev)
		if err != nil {
			return nil, err
		}
		if len(cfg) > 0 {
			if rev != revision {
				s.log.WithFields(logrus.Fields{"design": design, "requested": revision, "used": rev}).
					Warn("config revision fallback")
			}
			return cfg, nil
		}
	}

	// Last resort: any revision that has elements, in revision order.
	revs, err := s.Revisions(ctx, design)
	if err != nil {
		return nil, err
	}
	for _, rev := range revs {
		if rev == revision || rev == "" {
			continue
		}
		cfg, err := s.loadRevision(ctx, design, rev)
		if err != nil {
			return nil, err
		}
		if len(cfg) > 0 {
			s.log.WithFields(logrus.Fields{"design": design, "requested": revision, "used": rev}).
				Warn("config revision fallback")
			return cfg, nil
		}
	}
	return nil, models.Faultf(models.CodeConfigNotFound, "no element config for design %s", design)
}

func (s *ConfigStore) loadRevision(ctx context.Context, design, revision string) (map[int]map[string]models.ElementConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, design, revision, position, element_type, origin_x, origin_y,
			rotation, text_height, element_size, is_active
		FROM config_elements
		WHERE design = ? AND revision = ? AND is_active = 1
		ORDER BY position, element_type`, design, revision)
	if err != nil {
		return nil, models.WrapFault(models.CodeTransactionFailed, "loading element config", err)
	}
	defer rows.Close()

	out := map[int]map[string]models.ElementConfig{}
	for rows.Next() {
		ec, err := scanElement(rows)
		if err != nil {
			return nil, err
		}
		// CAD -> SVG frame. This is the only place the inversion happens.
		ec.OriginY = models.CanvasHeightMM - ec.OriginY
		if out[ec.Position] == nil {
			out[ec.Position] = map[string]models.ElementConfig{}
		}
		out[ec.Position][ec.ElementType] = ec
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanElement(r rowScanner) (models.ElementConfig, error) {
	var ec models.ElementConfig
	var textHeight, elementSize sql.NullFloat64
	var active int
	err := r.Scan(&ec.ID, &ec.Design, &ec.Revision, &ec.Position, &ec.ElementType,
		&ec.OriginX, &ec.OriginY, &ec.Rotation, &textHeight, &elementSize, &active)
	if err != nil {
		return ec, models.WrapFault(models.CodeTransactionFailed, "scanning element config", err)
	}
	ec.TextHeight = textHeight.Float64
	ec.ElementSize = elementSize.Float64
	ec.IsActive = active != 0
	return ec, nil
}

func validateElement(ec models.ElementConfig) error {
	if !models.ValidDesign(ec.Design) {
		return models.Faultf(models.CodeInvalidParams, "invalid design %q", ec.Design)
	}
	if !models.ValidRevision(ec.Revision) {
		return models.Faultf(models.CodeInvalidParams, "revision must be a single lowercase letter")
	}
	if !models.ValidElementType(ec.ElementType) {
		return models.Faultf(models.CodeInvalidElementType, "unknown element type %q", ec.ElementType)
	}
	if ec.ElementType == models.ElementQRCode {
		if ec.Position != 0 {
			return models.Faultf(models.CodeInvalidPosition, "qr_code must be at position 0")
		}
	} else if ec.Position < 1 || ec.Position > models.SlotsPerCarrier {
		return models.Faultf(models.CodeInvalidPosition, "position %d out of range 1-%d", ec.Position, models.SlotsPerCarrier)
	}
	if ec.Rotation < -360 || ec.Rotation > 360 {
		return models.Faultf(models.CodeInvalidRotation, "rotation %.2f out of range", ec.Rotation)
	}
	return nil
}

// SetElement upserts one element placement (CAD-frame coordinates) and
// returns its row id.
func (s *ConfigStore) SetElement(ctx context.Context, ec models.ElementConfig) (int64, error) {
	ec.Design = strings.ToUpper(strings.TrimSpace(ec.Design))
	if err := validateElement(ec); err != nil {
		return 0, err
	}
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO config_elements (design, revision, position, element_type,
			origin_x, origin_y, rotation, text_height, element_size, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(design, revision, position, element_type) DO UPDATE SET
			origin_x = excluded.origin_x,
			origin_y = excluded.origin_y,
			rotation = excluded.rotation,
			text_height = excluded.text_height,
			element_size = excluded.element_size,
			is_active = 1
		RETURNING id`,
		ec.Design, ec.Revision, ec.Position, ec.ElementType,
		ec.OriginX, ec.OriginY, ec.Rotation,
		nullFloat(ec.TextHeight), nullFloat(ec.ElementSize)).Scan(&id)
	if err != nil {
		return 0, models.WrapFault(models.CodeInsertFailed, "upserting element config", err)
	}
	return id, nil
}

func nullFloat(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: v != 0}
}

// Designs returns every design that has configuration rows.
func (s *ConfigStore) Designs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT design FROM config_elements ORDER BY design`)
	if err != nil {
		return nil, models.WrapFault(models.CodeTransactionFailed, "listing designs", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, models.WrapFault(models.CodeTransactionFailed, "listing designs", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Revisions returns the revisions configured for a design ("" = default).
func (s *ConfigStore) Revisions(ctx context.Context, design string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT revision FROM config_elements WHERE design = ? ORDER BY revision`,
		strings.ToUpper(strings.TrimSpace(design)))
	if err != nil {
		return nil, models.WrapFault(models.CodeTransactionFailed, "listing revisions", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, models.WrapFault(models.CodeTransactionFailed, "listing revisions", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ValidationResult reports which required elements a config set is missing.
type ValidationResult struct {
	Valid   bool     `json:"valid"`
	Missing []string `json:"missing"`
}

// ValidateConfig checks that a (design, revision) set can drive a full
// carrier: one qr_code at position 0 plus micro_id, module_id and serial_url
// at every slot up to positions.
func (s *ConfigStore) ValidateConfig(ctx context.Context, design, revision string, positions int) (ValidationResult, error) {
	if positions <= 0 || positions > models.SlotsPerCarrier {
		positions = models.SlotsPerCarrier
	}
	cfg, err := s.GetConfig(ctx, design, revision)
	if err != nil {
		if models.IsCode(err, models.CodeConfigNotFound) {
			return ValidationResult{Valid: false, Missing: []string{"qr_code@0"}}, nil
		}
		return ValidationResult{}, err
	}

	var missing []string
	if _, ok := cfg[0][models.ElementQRCode]; !ok {
		missing = append(missing, "qr_code@0")
	}
	for p := 1; p <= positions; p++ {
		for _, et := range []string{models.ElementMicroID, models.ElementModuleID, models.ElementSerialURL} {
			if _, ok := cfg[p][et]; !ok {
				missing = append(missing, fmt.Sprintf("%s@%d", et, p))
			}
		}
	}
	return ValidationResult{Valid: len(missing) == 0, Missing: missing}, nil
}

// --- CSV import -------------------------------------------------------------

// csvHeader is the required column order for config CSV files. text_height and
// element_size may be omitted or left empty.
var csvHeader = []string{"qsa_design", "revision", "position", "element_type",
	"origin_x", "origin_y", "rotation", "text_height", "element_size"}

// ParseConfigCSV decodes a config CSV upload. All rows must share one
// (design, revision); the set must include a position-0 qr_code and at least
// one module_id.
func ParseConfigCSV(r io.Reader) (design, revision string, elements []models.ElementConfig, err error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return "", "", nil, models.WrapFault(models.CodeInvalidParams, "malformed CSV", err)
	}
	if len(records) < 2 {
		return "", "", nil, models.NewFault(models.CodeInvalidParams, "CSV has no data rows")
	}

	head := records[0]
	col := map[string]int{}
	for i, h := range head {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range csvHeader[:7] {
		if _, ok := col[required]; !ok {
			return "", "", nil, models.Faultf(models.CodeInvalidParams, "missing CSV column %q", required)
		}
	}

	get := func(rec []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	haveQR, haveModuleID := false, false
	for ln, rec := range records[1:] {
		d := strings.ToUpper(get(rec, "qsa_design"))
		rev := get(rec, "revision")
		if design == "" {
			design, revision = d, rev
		} else if d != design || rev != revision {
			return "", "", nil, models.Faultf(models.CodeInvalidParams,
				"row %d: all rows must share one (design, revision)", ln+2)
		}

		pos, err := strconv.Atoi(get(rec, "position"))
		if err != nil {
			return "", "", nil, models.Faultf(models.CodeInvalidPosition, "row %d: bad position", ln+2)
		}
		x, errX := strconv.ParseFloat(get(rec, "origin_x"), 64)
		y, errY := strconv.ParseFloat(get(rec, "origin_y"), 64)
		rot, errR := strconv.ParseFloat(get(rec, "rotation"), 64)
		if errX != nil || errY != nil || errR != nil {
			return "", "", nil, models.Faultf(models.CodeInvalidParams, "row %d: bad coordinates", ln+2)
		}
		ec := models.ElementConfig{
			Design: d, Revision: rev, Position: pos,
			ElementType: get(rec, "element_type"),
			OriginX:     x, OriginY: y, Rotation: rot,
			IsActive: true,
		}
		if v := get(rec, "text_height"); v != "" {
			if ec.TextHeight, err = strconv.ParseFloat(v, 64); err != nil {
				return "", "", nil, models.Faultf(models.CodeInvalidParams, "row %d: bad text_height", ln+2)
			}
		}
		if v := get(rec, "element_size"); v != "" {
			if ec.ElementSize, err = strconv.ParseFloat(v, 64); err != nil {
				return "", "", nil, models.Faultf(models.CodeInvalidParams, "row %d: bad element_size", ln+2)
			}
		}
		if err := validateElement(ec); err != nil {
			return "", "", nil, err
		}
		switch {
		case ec.ElementType == models.ElementQRCode && ec.Position == 0:
			haveQR = true
		case ec.ElementType == models.ElementModuleID:
			haveModuleID = true
		}
		elements = append(elements, ec)
	}

	if !haveQR {
		return "", "", nil, models.NewFault(models.CodeMissingQRCode, "config must include a qr_code at position 0")
	}
	if !haveModuleID {
		return "", "", nil, models.NewFault(models.CodeMissingModuleID, "config must include a module_id element")
	}
	return design, revision, elements, nil
}

// ImportDelta is the three-way diff between a CSV upload and the stored
// config, keyed by (position, element_type).
type ImportDelta struct {
	Design    string                 `json:"design"`
	Revision  string                 `json:"revision"`
	Additions []models.ElementConfig `json:"additions"`
	Updates   []models.ElementConfig `json:"updates"`
	Deletions []models.ElementConfig `json:"deletions"`
}

// PreviewImport computes the delta an import would apply, without mutating.
func (s *ConfigStore) PreviewImport(ctx context.Context, design, revision string, elements []models.ElementConfig) (*ImportDelta, error) {
	existing, err := s.rawRevision(ctx, design, revision)
	if err != nil {
		return nil, err
	}

	type key struct {
		pos int
		typ string
	}
	have := map[key]models.ElementConfig{}
	for _, ec := range existing {
		have[key{ec.Position, ec.ElementType}] = ec
	}

	delta := &ImportDelta{Design: design, Revision: revision}
	seen := map[key]bool{}
	for _, ec := range elements {
		k := key{ec.Position, ec.ElementType}
		seen[k] = true
		old, ok := have[k]
		if !ok {
			delta.Additions = append(delta.Additions, ec)
			continue
		}
		if old.OriginX != ec.OriginX || old.OriginY != ec.OriginY ||
			old.Rotation != ec.Rotation || old.TextHeight != ec.TextHeight ||
			old.ElementSize != ec.ElementSize {
			ec.ID = old.ID
			delta.Updates = append(delta.Updates, ec)
		}
	}
	for _, ec := range existing {
		if !seen[key{ec.Position, ec.ElementType}] {
			delta.Deletions = append(delta.Deletions, ec)
		}
	}
	sort.Slice(delta.Deletions, func(i, j int) bool {
		a, b := delta.Deletions[i], delta.Deletions[j]
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return a.ElementType < b.ElementType
	})
	return delta, nil
}

// ApplyImport applies a previously previewed delta in one transaction.
func (s *ConfigStore) ApplyImport(ctx context.Context, delta *ImportDelta) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Retryablef(models.CodeTransactionFailed, "begin config import: %v", err)
	}
	defer tx.Rollback()

	for _, ec := range append(append([]models.ElementConfig{}, delta.Additions...), delta.Updates...) {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO config_elements (design, revision, position, element_type,
				origin_x, origin_y, rotation, text_height, element_size, is_active)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
			ON CONFLICT(design, revision, position, element_type) DO UPDATE SET
				origin_x = excluded.origin_x,
				origin_y = excluded.origin_y,
				rotation = excluded.rotation,
				text_height = excluded.text_height,
				element_size = excluded.element_size,
				is_active = 1`,
			delta.Design, delta.Revision, ec.Position, ec.ElementType,
			ec.OriginX, ec.OriginY, ec.Rotation,
			nullFloat(ec.TextHeight), nullFloat(ec.ElementSize))
		if err != nil {
			return models.WrapFault(models.CodeInsertFailed, "importing element", err)
		}
	}
	for _, ec := range delta.Deletions {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM config_elements
			WHERE design = ? AND revision = ? AND position = ? AND element_type = ?`,
			delta.Design, delta.Revision, ec.Position, ec.ElementType)
		if err != nil {
			return models.WrapFault(models.CodeDeleteFailed, "deleting element", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return models.Retryablef(models.CodeTransactionFailed, "commit config import: %v", err)
	}
	s.log.WithFields(logrus.Fields{
		"design": delta.Design, "revision": delta.Revision,
		"add": len(delta.Additions), "update": len(delta.Updates), "delete": len(delta.Deletions),
	}).Info("applied config import")
	return nil
}

// rawRevision loads stored rows without the CAD->SVG conversion; used by the
// import diff and CSV export so round trips preserve CAD coordinates.
func (s *ConfigStore) rawRevision(ctx context.Context, design, revision string) ([]models.ElementConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, design, revision, position, element_type, origin_x, origin_y,
			rotation, text_height, element_size, is_active
		FROM config_elements
		WHERE design = ? AND revision = ? AND is_active = 1
		ORDER BY position, element_type`,
		strings.ToUpper(strings.TrimSpace(design)), revision)
	if err != nil {
		return nil, models.WrapFault(models.CodeTransactionFailed, "loading element config", err)
	}
	defer rows.Close()
	var out []models.ElementConfig
	for rows.Next() {
		ec, err := scanElement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ec)
	}
	return out, rows.Err()
}

// ExportCSV writes the stored (design, revision) config in import format.
func (s *ConfigStore) ExportCSV(ctx context.Context, design, revision string, w io.Writer) error {
	elements, err := s.rawRevision(ctx, design, revision)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return models.WrapFault(models.CodeTransactionFailed, "writing CSV", err)
	}
	f := func(v float64) string {
		if v == 0 {
			return ""
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	for _, ec := range elements {
		rec := []string{
			ec.Design, ec.Revision,
			strconv.Itoa(ec.Position), ec.ElementType,
			strconv.FormatFloat(ec.OriginX, 'f', -1, 64),
			strconv.FormatFloat(ec.OriginY, 'f', -1, 64),
			strconv.FormatFloat(ec.Rotation, 'f', -1, 64),
			f(ec.TextHeight), f(ec.ElementSize),
		}
		if err := cw.Write(rec); err != nil {
			return models.WrapFault(models.CodeTransactionFailed, "writing CSV", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
