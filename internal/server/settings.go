package server

import (
	"net/http"

	"github.com/quadi/qsa-engrave/config"
	"github.com/quadi/qsa-engrave/laser"
	"github.com/quadi/qsa-engrave/models"
)

// handleSettings returns the runtime configuration on GET and replaces it on
// POST. Device addressing takes effect immediately; output directory changes
// apply on the next restart.
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := s.staff(w, r); !ok {
			return
		}
		s.ok(w, s.config())
	case http.MethodPost:
		user, ok := s.admin(w, r)
		if !ok {
			return
		}
		var next config.Config
		if err := s.readJSON(r, &next); err != nil {
			s.fail(w, models.WrapFault(models.CodeInvalidParams, "malformed settings", err))
			return
		}
		next.Quantize()
		if err := next.Check(); err != nil {
			s.fail(w, models.WrapFault(models.CodeInvalidParams, err.Error(), err))
			return
		}
		if err := s.coupler.Update(laser.Settings{
			Host:           next.DeviceHost,
			SendPort:       next.SendPort,
			RecvPort:       next.RecvPort,
			TimeoutSeconds: next.UDPTimeoutSeconds,
			Enabled:        next.DeviceEnabled,
		}); err != nil {
			s.fail(w, err)
			return
		}
		if err := next.Save(s.cfgPath); err != nil {
			s.fail(w, models.WrapFault(models.CodeUpdateFailed, "persisting settings", err))
			return
		}
		s.cfgMu.Lock()
		s.cfg = next
		s.cfgMu.Unlock()

		s.users.Audit(r.Context(), user.Username, "update", "settings", "", "")
		s.ok(w, next)
	default:
		http.NotFound(w, r)
	}
}
