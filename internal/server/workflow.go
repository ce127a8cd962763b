package server

import (
	"net/http"
	"strconv"

	"github.com/quadi/qsa-engrave/models"
	"github.com/quadi/qsa-engrave/store"
)

// loadRow fetches and sanity-checks one logical row. Row operations key on
// original_qsa_sequence; the modules' current carrier placement only matters
// for artwork generation.
func (s *Server) loadRow(r *http.Request, req RowRequest) ([]models.Module, error) {
	if req.BatchID <= 0 || req.QsaSequence <= 0 {
		return nil, models.NewFault(models.CodeInvalidParams, "batchId and qsaSequence are required")
	}
	mods, err := s.batches.RowModules(r.Context(), req.BatchID, req.QsaSequence)
	if err != nil {
		return nil, err
	}
	if len(mods) == 0 {
		return nil, models.Faultf(models.CodeNoModules, "no modules in batch %d row %d", req.BatchID, req.QsaSequence)
	}
	return mods, nil
}

// reserveAndStart runs the reservation half of the start-row flow: reserve
// serials for the row, link them, and move the row to in_progress with a
// compensating void on failure.
func (s *Server) reserveAndStart(r *http.Request, req RowRequest, mods []models.Module, username string) ([]models.ReservedSerial, error) {
	reserve := make([]store.ReserveModule, 0, len(mods))
	for _, m := range mods {
		reserve = append(reserve, store.ReserveModule{
			ModuleSKU:     m.ModuleSKU,
			ArrayPosition: m.ArrayPosition,
		})
	}
	reserved, err := s.serials.Reserve(r.Context(), req.BatchID, req.QsaSequence, reserve, username)
	if err != nil {
		return nil, err
	}
	if err := s.batches.LinkSerialsToModules(r.Context(), req.BatchID, req.QsaSequence, reserved); err != nil {
		s.compensateReservation(r, req)
		return nil, models.WrapFault(models.CodeStatusUpdateFailed, "linking serials failed; reservation voided", err)
	}
	if err := s.batches.UpdateRowStatus(r.Context(), req.BatchID, req.QsaSequence,
		models.RowPending, models.RowInProgress); err != nil {
		s.compensateReservation(r, req)
		return nil, models.WrapFault(models.CodeStatusUpdateFailed, "row status update failed; reservation voided", err)
	}
	return reserved, nil
}

// compensateReservation voids a reservation whose follow-up writes failed so
// no reserved serials are left dangling without a started row.
func (s *Server) compensateReservation(r *http.Request, req RowRequest) {
	if _, err := s.serials.Void(r.Context(), req.BatchID, req.QsaSequence); err != nil {
		s.log.WithError(err).Error("compensating void failed")
	}
	if err := s.batches.ClearSerialLinks(r.Context(), req.BatchID, req.QsaSequence); err != nil {
		s.log.WithError(err).Error("clearing serial links failed")
	}
}

func (s *Server) handleStartRow(w http.ResponseWriter, r *http.Request) {
	if !s.requirePost(w, r) {
		return
	}
	user, ok := s.staff(w, r)
	if !ok {
		return
	}
	var req RowRequest
	if err := s.readJSON(r, &req); err != nil {
		s.fail(w, models.WrapFault(models.CodeInvalidParams, "malformed row request", err))
		return
	}
	mods, err := s.loadRow(r, req)
	if err != nil {
		s.fail(w, err)
		return
	}
	if mods[0].RowStatus != models.RowPending {
		s.fail(w, models.Faultf(models.CodeInvalidRowStatus, "row %d is %s, not pending", req.QsaSequence, mods[0].RowStatus))
		return
	}
	pending, err := s.serials.CountCommittable(r.Context(), req.BatchID, req.QsaSequence)
	if err != nil {
		s.fail(w, err)
		return
	}
	if pending > 0 {
		s.fail(w, models.Faultf(models.CodeSerialsAlreadyReserved,
			"row %d already has %d reserved serials", req.QsaSequence, pending))
		return
	}

	reserved, err := s.reserveAndStart(r, req, mods, user.Username)
	if err != nil {
		s.fail(w, err)
		return
	}

	s.users.Audit(r.Context(), user.Username, "start", "rows", rowRef(req), strconv.Itoa(len(reserved))+" serials")
	s.broadcastRow(req.BatchID, req.QsaSequence, string(models.RowInProgress))
	s.broadcastCapacity(r)
	s.ok(w, StartRowResponse{Serials: reserved})
}

func (s *Server) handleCompleteRow(w http.ResponseWriter, r *http.Request) {
	if !s.requirePost(w, r) {
		return
	}
	user, ok := s.staff(w, r)
	if !ok {
		return
	}
	var req RowRequest
	if err := s.readJSON(r, &req); err != nil {
		s.fail(w, models.WrapFault(models.CodeInvalidParams, "malformed row request", err))
		return
	}
	mods, err := s.loadRow(r, req)
	if err != nil {
		s.fail(w, err)
		return
	}
	if mods[0].RowStatus != models.RowInProgress {
		s.fail(w, models.Faultf(models.CodeInvalidRowStatus, "row %d is %s, not in_progress", req.QsaSequence, mods[0].RowStatus))
		return
	}

	committable, err := s.serials.CountCommittable(r.Context(), req.BatchID, req.QsaSequence)
	if err != nil {
		s.fail(w, err)
		return
	}
	if committable == 0 {
		s.fail(w, models.Faultf(models.CodeNoReservedSerials, "row %d has no reserved serials", req.QsaSequence))
		return
	}

	n, err := s.serials.Commit(r.Context(), req.BatchID, req.QsaSequence)
	if err != nil {
		s.fail(w, err)
		return
	}
	if n == 0 {
		// Commit raced another caller. Post-validate with the engraved count.
		engraved, err := s.serials.CountEngraved(r.Context(), req.BatchID, req.QsaSequence)
		if err != nil {
			s.fail(w, err)
			return
		}
		switch {
		case engraved == len(mods):
			// Benign: the other caller committed everything. Proceed.
		case engraved == 0:
			s.fail(w, models.Faultf(models.CodeZeroSerialsCommitted, "no serials committed for row %d", req.QsaSequence))
			return
		default:
			s.fail(w, models.Faultf(models.CodePartialCommit,
				"row %d has %d of %d serials engraved", req.QsaSequence, engraved, len(mods)))
			return
		}
	}

	if err := s.batches.MarkRowDone(r.Context(), req.BatchID, req.QsaSequence); err != nil {
		s.fail(w, err)
		return
	}

	complete, err := s.batches.IsBatchComplete(r.Context(), req.BatchID)
	if err != nil {
		s.fail(w, err)
		return
	}
	if complete {
		if err := s.batches.CompleteBatch(r.Context(), req.BatchID); err != nil {
			s.fail(w, err)
			return
		}
		s.files.CleanupBatch(req.BatchID)
		s.events.Broadcast(WSMessage{Type: "batch", Data: map[string]interface{}{"batchId": req.BatchID, "status": "completed"}})
	}

	s.users.Audit(r.Context(), user.Username, "complete", "rows", rowRef(req), "")
	s.broadcastRow(req.BatchID, req.QsaSequence, string(models.RowDone))
	s.ok(w, map[string]bool{"batchComplete": complete})
}

// handleRetryRow voids the current reservation and restarts the row: back to
// pending, fresh serials, back to in_progress.
func (s *Server) handleRetryRow(w http.ResponseWriter, r *http.Request) {
	if !s.requirePost(w, r) {
		return
	}
	user, ok := s.staff(w, r)
	if !ok {
		return
	}
	var req RowRequest
	if err := s.readJSON(r, &req); err != nil {
		s.fail(w, models.WrapFault(models.CodeInvalidParams, "malformed row request", err))
		return
	}
	mods, err := s.loadRow(r, req)
	if err != nil {
		s.fail(w, err)
		return
	}
	if mods[0].RowStatus != models.RowInProgress {
		s.fail(w, models.Faultf(models.CodeInvalidRowStatus, "row %d is %s, not in_progress", req.QsaSequence, mods[0].RowStatus))
		return
	}

	s.compensateReservation(r, req)
	if err := s.batches.UpdateRowStatus(r.Context(), req.BatchID, req.QsaSequence,
		models.RowInProgress, models.RowPending); err != nil {
		s.fail(w, err)
		return
	}
	reserved, err := s.reserveAndStart(r, req, mods, user.Username)
	if err != nil {
		s.fail(w, err)
		return
	}

	s.users.Audit(r.Context(), user.Username, "retry", "rows", rowRef(req), "")
	s.broadcastRow(req.BatchID, req.QsaSequence, string(models.RowInProgress))
	s.broadcastCapacity(r)
	s.ok(w, StartRowResponse{Serials: reserved})
}

// handleBackRow abandons an in-progress row: voids its reservation and
// returns it to pending.
func (s *Server) handleBackRow(w http.ResponseWriter, r *http.Request) {
	if !s.requirePost(w, r) {
		return
	}
	user, ok := s.staff(w, r)
	if !ok {
		return
	}
	var req RowRequest
	if err := s.readJSON(r, &req); err != nil {
		s.fail(w, models.WrapFault(models.CodeInvalidParams, "malformed row request", err))
		return
	}
	mods, err := s.loadRow(r, req)
	if err != nil {
		s.fail(w, err)
		return
	}
	if mods[0].RowStatus != models.RowInProgress {
		s.fail(w, models.Faultf(models.CodeInvalidRowStatus, "row %d is %s, not in_progress", req.QsaSequence, mods[0].RowStatus))
		return
	}

	s.compensateReservation(r, req)
	if err := s.batches.UpdateRowStatus(r.Context(), req.BatchID, req.QsaSequence,
		models.RowInProgress, models.RowPending); err != nil {
		s.fail(w, err)
		return
	}

	s.users.Audit(r.Context(), user.Username, "back", "rows", rowRef(req), "")
	s.broadcastRow(req.BatchID, req.QsaSequence, string(models.RowPending))
	s.ok(w, map[string]bool{"ok": true})
}

// handleRerunRow resets a done row to pending and reopens the batch if it
// had been completed. The previously engraved serials stay engraved; the
// rerun issues fresh ones.
func (s *Server) handleRerunRow(w http.ResponseWriter, r *http.Request) {
	if !s.requirePost(w, r) {
		return
	}
	user, ok := s.staff(w, r)
	if !ok {
		return
	}
	var req RowRequest
	if err := s.readJSON(r, &req); err != nil {
		s.fail(w, models.WrapFault(models.CodeInvalidParams, "malformed row request", err))
		return
	}
	mods, err := s.loadRow(r, req)
	if err != nil {
		s.fail(w, err)
		return
	}
	if mods[0].RowStatus != models.RowDone {
		s.fail(w, models.Faultf(models.CodeInvalidRowStatus, "row %d is %s, not done", req.QsaSequence, mods[0].RowStatus))
		return
	}

	batch, err := s.batches.Batch(r.Context(), req.BatchID)
	if err != nil {
		s.fail(w, err)
		return
	}
	if batch.Status == models.BatchCompleted {
		if err := s.batches.ReopenBatch(r.Context(), req.BatchID); err != nil {
			s.fail(w, err)
			return
		}
	}
	if err := s.batches.ResetRowStatus(r.Context(), req.BatchID, req.QsaSequence); err != nil {
		s.fail(w, err)
		return
	}
	if err := s.batches.ClearSerialLinks(r.Context(), req.BatchID, req.QsaSequence); err != nil {
		s.fail(w, err)
		return
	}

	s.users.Audit(r.Context(), user.Username, "rerun", "rows", rowRef(req), "")
	s.broadcastRow(req.BatchID, req.QsaSequence, string(models.RowPending))
	s.ok(w, map[string]bool{"ok": true})
}

// handleStartPosition redistributes a pending row's modules onto carriers
// starting at the requested slot.
func (s *Server) handleStartPosition(w http.ResponseWriter, r *http.Request) {
	if !s.requirePost(w, r) {
		return
	}
	user, ok := s.staff(w, r)
	if !ok {
		return
	}
	var req StartPositionRequest
	if err := s.readJSON(r, &req); err != nil {
		s.fail(w, models.WrapFault(models.CodeInvalidParams, "malformed request", err))
		return
	}
	result, err := s.batches.RedistributeRowModules(r.Context(), req.BatchID,
		[]int{req.QsaSequence}, req.StartPosition)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.users.Audit(r.Context(), user.Username, "start-position", "rows",
		rowRef(RowRequest{BatchID: req.BatchID, QsaSequence: req.QsaSequence}),
		"start="+strconv.Itoa(req.StartPosition))
	s.ok(w, result)
}

func rowRef(req RowRequest) string {
	return strconv.FormatInt(req.BatchID, 10) + "/" + strconv.Itoa(req.QsaSequence)
}
