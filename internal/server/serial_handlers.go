package server

import (
	"net/http"
	"time"

	"github.com/quadi/qsa-engrave/models"
)

// handleSerialLookup is the public endpoint behind the engraved short URL.
// Unauthenticated, so it is rate limited per source IP and returns only
// basic module information.
func (s *Server) handleSerialLookup(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	if !s.limiter.Allow(clientIP(r)) {
		s.fail(w, models.NewFault(models.CodeRateLimited, "too many lookups; slow down"))
		return
	}
	s.limiter.prune(10 * time.Minute)

	serial := r.URL.Query().Get("serial")
	if _, ok := models.ParseSerial(serial); !ok {
		s.fail(w, models.NewFault(models.CodeInvalidSerial, "serial must be 8 digits"))
		return
	}
	rec, err := s.serials.Find(r.Context(), serial)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.ok(w, SerialLookupResponse{
		SerialNumber: rec.SerialNumber,
		ModuleSKU:    rec.ModuleSKU,
		Status:       string(rec.Status),
		EngravedAt:   rec.EngravedAt,
	})
}

// handleSerialDetails is the staff view: the full serial record, the QSA ID
// of its row, and every serial ever issued to that row.
func (s *Server) handleSerialDetails(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	if _, ok := s.staff(w, r); !ok {
		return
	}
	serial := r.URL.Query().Get("serial")
	if _, ok := models.ParseSerial(serial); !ok {
		s.fail(w, models.NewFault(models.CodeInvalidSerial, "serial must be 8 digits"))
		return
	}
	rec, err := s.serials.Find(r.Context(), serial)
	if err != nil {
		s.fail(w, err)
		return
	}
	rowSerials, err := s.serials.RowSerials(r.Context(), rec.BatchID, rec.QsaSequence)
	if err != nil {
		s.fail(w, err)
		return
	}
	qsaID, _, err := s.idents.ForRow(r.Context(), rec.BatchID, rec.QsaSequence)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.ok(w, SerialDetailsResponse{Serial: rec, QSAID: qsaID, RowSerials: rowSerials})
}
