package server

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/quadi/qsa-engrave/models"
	"github.com/quadi/qsa-engrave/store"
)

func fileFromMultipart(r *http.Request, field string) (multipart.File, *multipart.FileHeader, error) {
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		return nil, nil, err
	}
	return r.FormFile(field)
}

// parseUploadedCSV reads and parses the uploaded config CSV. Shared by the
// preview and apply endpoints; apply re-parses rather than trusting a
// client-echoed delta.
func (s *Server) parseUploadedCSV(r *http.Request) (design, revision string, elements []models.ElementConfig, err error) {
	f, _, err := fileFromMultipart(r, "file")
	if err != nil {
		return "", "", nil, models.WrapFault(models.CodeInvalidParams, "missing CSV upload", err)
	}
	defer f.Close()
	design, revision, elements, err = store.ParseConfigCSV(io.LimitReader(f, 4<<20))
	return design, revision, elements, err
}

// handleConfigPreview parses an uploaded CSV and returns the three-way diff
// against the stored configuration without writing anything.
func (s *Server) handleConfigPreview(w http.ResponseWriter, r *http.Request) {
	if !s.requirePost(w, r) {
		return
	}
	if _, ok := s.staff(w, r); !ok {
		return
	}
	design, revision, elements, err := s.parseUploadedCSV(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	delta, err := s.configs.PreviewImport(r.Context(), design, revision, elements)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.ok(w, ConfigPreviewResponse{Design: design, Revision: revision, Delta: delta})
}

// handleConfigApply re-parses the uploaded CSV and applies the resulting
// delta in one transaction.
func (s *Server) handleConfigApply(w http.ResponseWriter, r *http.Request) {
	if !s.requirePost(w, r) {
		return
	}
	user, ok := s.staff(w, r)
	if !ok {
		return
	}
	design, revision, elements, err := s.parseUploadedCSV(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	delta, err := s.configs.PreviewImport(r.Context(), design, revision, elements)
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := s.configs.ApplyImport(r.Context(), delta); err != nil {
		s.fail(w, err)
		return
	}
	s.users.Audit(r.Context(), user.Username, "import", "config", design+"/"+revision,
		fmt.Sprintf("+%d ~%d -%d", len(delta.Additions), len(delta.Updates), len(delta.Deletions)))
	s.ok(w, ConfigPreviewResponse{Design: design, Revision: revision, Delta: delta})
}

// handleConfigExport streams the stored configuration of one (design,
// revision) as CSV.
func (s *Server) handleConfigExport(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	if _, ok := s.staff(w, r); !ok {
		return
	}
	design := r.URL.Query().Get("design")
	revision := r.URL.Query().Get("revision")
	if !models.ValidDesign(design) {
		s.fail(w, models.Faultf(models.CodeInvalidParams, "invalid design %q", design))
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", design+revision+"-config.csv"))
	if err := s.configs.ExportCSV(r.Context(), design, revision, w); err != nil {
		// Headers are out; log is the best we can do.
		s.log.WithError(err).Error("config export failed")
	}
}

// handleConfigValidate reports whether a (design, revision) has the full
// element set needed to compose a carrier.
func (s *Server) handleConfigValidate(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	if _, ok := s.staff(w, r); !ok {
		return
	}
	design := r.URL.Query().Get("design")
	revision := r.URL.Query().Get("revision")
	if !models.ValidDesign(design) {
		s.fail(w, models.Faultf(models.CodeInvalidParams, "invalid design %q", design))
		return
	}
	result, err := s.configs.ValidateConfig(r.Context(), design, revision, models.SlotsPerCarrier)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.ok(w, result)
}

// handleSkuMappings lists on GET, creates on POST.
func (s *Server) handleSkuMappings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := s.staff(w, r); !ok {
			return
		}
		list, err := s.skus.List(r.Context())
		if err != nil {
			s.fail(w, err)
			return
		}
		s.ok(w, list)
	case http.MethodPost:
		user, ok := s.staff(w, r)
		if !ok {
			return
		}
		var m models.SkuMapping
		if err := s.readJSON(r, &m); err != nil {
			s.fail(w, models.WrapFault(models.CodeInvalidParams, "malformed mapping", err))
			return
		}
		id, err := s.skus.Create(r.Context(), m)
		if err != nil {
			s.fail(w, err)
			return
		}
		s.users.Audit(r.Context(), user.Username, "create", "sku_mappings", strconv.FormatInt(id, 10), m.LegacyPattern)
		s.ok(w, map[string]int64{"id": id})
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleSkuMappingUpdate(w http.ResponseWriter, r *http.Request) {
	if !s.requirePost(w, r) {
		return
	}
	user, ok := s.staff(w, r)
	if !ok {
		return
	}
	var m models.SkuMapping
	if err := s.readJSON(r, &m); err != nil {
		s.fail(w, models.WrapFault(models.CodeInvalidParams, "malformed mapping", err))
		return
	}
	if err := s.skus.Update(r.Context(), m); err != nil {
		s.fail(w, err)
		return
	}
	s.users.Audit(r.Context(), user.Username, "update", "sku_mappings", strconv.FormatInt(m.ID, 10), m.LegacyPattern)
	s.ok(w, map[string]bool{"ok": true})
}

func (s *Server) handleSkuMappingDelete(w http.ResponseWriter, r *http.Request) {
	if !s.requirePost(w, r) {
		return
	}
	user, ok := s.staff(w, r)
	if !ok {
		return
	}
	var req struct {
		ID int64 `json:"id"`
	}
	if err := s.readJSON(r, &req); err != nil {
		s.fail(w, models.WrapFault(models.CodeInvalidParams, "malformed request", err))
		return
	}
	if err := s.skus.Delete(r.Context(), req.ID); err != nil {
		s.fail(w, err)
		return
	}
	s.users.Audit(r.Context(), user.Username, "delete", "sku_mappings", strconv.FormatInt(req.ID, 10), "")
	s.ok(w, map[string]bool{"ok": true})
}

// handleSkuMappingTest resolves a sample SKU through the active mappings.
func (s *Server) handleSkuMappingTest(w http.ResponseWriter, r *http.Request) {
	if !s.requirePost(w, r) {
		return
	}
	if _, ok := s.staff(w, r); !ok {
		return
	}
	var req SkuTestRequest
	if err := s.readJSON(r, &req); err != nil {
		s.fail(w, models.WrapFault(models.CodeInvalidParams, "malformed request", err))
		return
	}
	resolver, err := s.skus.Resolver(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	res := resolver.Resolve(req.SKU)
	if res == nil {
		s.fail(w, models.Faultf(models.CodeInvalidSKUFormat, "no mapping matches %q", req.SKU))
		return
	}
	s.ok(w, res)
}
