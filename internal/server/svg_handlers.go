package server

import (
	"net/http"
	"strconv"

	"github.com/quadi/qsa-engrave/models"
	"github.com/quadi/qsa-engrave/svg"
)

// handleGenerateSVG composes the document for one physical carrier, writes
// it to the output directory, and optionally ships it to the workstation.
//
// qsaSequence here addresses the CARRIER (current placement), unlike the row
// lifecycle endpoints which address logical rows.
func (s *Server) handleGenerateSVG(w http.ResponseWriter, r *http.Request) {
	if !s.requirePost(w, r) {
		return
	}
	user, ok := s.staff(w, r)
	if !ok {
		return
	}
	var req GenerateSVGRequest
	if err := s.readJSON(r, &req); err != nil {
		s.fail(w, models.WrapFault(models.CodeInvalidParams, "malformed generate request", err))
		return
	}

	mods, err := s.batches.CarrierModules(r.Context(), req.BatchID, req.QsaSequence)
	if err != nil {
		s.fail(w, err)
		return
	}
	if len(mods) == 0 {
		s.fail(w, models.Faultf(models.CodeNoModules, "no modules on batch %d carrier %d", req.BatchID, req.QsaSequence))
		return
	}

	resolver, err := s.skus.Resolver(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	res := resolver.Resolve(mods[0].ModuleSKU)
	if res == nil {
		s.fail(w, models.Faultf(models.CodeInvalidSKUFormat, "cannot resolve design for SKU %q", mods[0].ModuleSKU))
		return
	}

	qsaID, err := s.idents.GetOrCreate(r.Context(), req.BatchID, req.QsaSequence, res.CanonicalCode)
	if err != nil {
		s.fail(w, err)
		return
	}

	layout, err := s.configs.GetConfig(r.Context(), res.CanonicalCode, res.Revision)
	if err != nil {
		s.fail(w, err)
		return
	}
	var elements []models.ElementConfig
	for _, byType := range layout {
		for _, e := range byType {
			elements = append(elements, e)
		}
	}

	carrier := make([]svg.CarrierModule, 0, len(mods))
	for _, m := range mods {
		serial, ok := models.ParseSerial(m.SerialNumber)
		if !ok {
			s.fail(w, models.Faultf(models.CodeMissingModuleData,
				"module at position %d has no linked serial; start the row first", m.ArrayPosition))
			return
		}
		// A lot no longer mirrored yields nil codes, which Compose reports
		// as led_resolution_failed when LED elements are configured.
		codes, _, err := s.catalog.LedCodesFor(r.Context(), m.ProductionBatchID, m.ModuleSKU, m.OrderID)
		if err != nil {
			s.fail(w, models.WrapFault(models.CodeTransactionFailed, "loading LED codes", err))
			return
		}
		carrier = append(carrier, svg.CarrierModule{
			Position:      m.ArrayPosition,
			ModuleSKU:     m.ModuleSKU,
			SerialInteger: serial,
			LedCodes:      codes,
		})
	}

	cfg := s.config()
	doc, err := svg.Compose(svg.ComposeInput{
		QSAID:       qsaID,
		Rotation:    cfg.SVGRotation,
		TopOffset:   cfg.SVGTopOffset,
		LedTracking: cfg.LedCodeTracking,
		Elements:    elements,
		Modules:     carrier,
	})
	if err != nil {
		s.fail(w, err)
		return
	}

	localPath, err := s.files.Save(req.BatchID, req.QsaSequence, doc)
	if err != nil {
		s.fail(w, err)
		return
	}
	remotePath := s.files.RemotePath(localPath)

	resp := GenerateSVGResponse{QSAID: qsaID, Path: localPath, RemotePath: remotePath}
	autoLoad := cfg.AutoLoad
	if req.AutoLoad != nil {
		autoLoad = *req.AutoLoad
	}
	if autoLoad {
		if err := s.coupler.LoadFile(r.Context(), remotePath); err != nil {
			// Generation succeeded; report the load failure without failing
			// the request so the operator can resend.
			resp.LoadError = models.AsFault(err).Message
		} else {
			resp.Loaded = true
		}
	}

	s.users.Audit(r.Context(), user.Username, "generate-svg", "carriers",
		strconv.FormatInt(req.BatchID, 10)+"/"+strconv.Itoa(req.QsaSequence), qsaID)
	s.ok(w, resp)
}

// handleResendSVG reloads an already-generated document in the workstation.
// Serves both the resend and load operations.
func (s *Server) handleResendSVG(w http.ResponseWriter, r *http.Request) {
	if !s.requirePost(w, r) {
		return
	}
	user, ok := s.staff(w, r)
	if !ok {
		return
	}
	var req RowRequest
	if err := s.readJSON(r, &req); err != nil {
		s.fail(w, models.WrapFault(models.CodeInvalidParams, "malformed resend request", err))
		return
	}
	if !s.files.Exists(req.BatchID, req.QsaSequence) {
		s.fail(w, models.Faultf(models.CodeNotFound,
			"no generated SVG for batch %d carrier %d", req.BatchID, req.QsaSequence))
		return
	}
	remotePath := s.files.RemotePath(s.files.LocalPath(req.BatchID, req.QsaSequence))
	if err := s.coupler.LoadFile(r.Context(), remotePath); err != nil {
		s.fail(w, err)
		return
	}
	s.users.Audit(r.Context(), user.Username, "resend-svg", "carriers", rowRef(req), "")
	s.ok(w, map[string]string{"remotePath": remotePath})
}

// handleTestDevice runs the bounded-timeout UDP probe.
func (s *Server) handleTestDevice(w http.ResponseWriter, r *http.Request) {
	if !s.requirePost(w, r) {
		return
	}
	if _, ok := s.staff(w, r); !ok {
		return
	}
	rtt, err := s.coupler.Probe(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.ok(w, TestDeviceResponse{RTTMillis: rtt.Milliseconds()})
}
