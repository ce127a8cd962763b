package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/quadi/qsa-engrave/models"
)

// BatchStore owns the batches and modules relations.
//
// A logical row is the set of modules sharing original_qsa_sequence; a
// physical carrier is the set sharing the current qsa_sequence. The two only
// diverge after a redistribution. Row status always moves per logical row.
type BatchStore struct {
	db  *sql.DB
	log *logrus.Entry
}

func NewBatchStore(db *sql.DB, log *logrus.Logger) *BatchStore {
	return &BatchStore{db: db, log: log.WithField("store", "batches")}
}

// CreateBatch inserts an open batch and returns its id.
func (s *BatchStore) CreateBatch(ctx context.Context, name, createdBy string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO batches (name, status, created_by, created_at)
		VALUES (?, 'in_progress', ?, ?)`, name, createdBy, now())
	if err != nil {
		return 0, models.WrapFault(models.CodeInsertFailed, "creating batch", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, models.WrapFault(models.CodeInsertFailed, "creating batch", err)
	}
	return id, nil
}

// AddModule inserts one module row. qsa_sequence and original_qsa_sequence
// start out equal; only redistribution moves the former.
func (s *BatchStore) AddModule(ctx context.Context, m models.Module) (int64, error) {
	if m.ArrayPosition < 1 || m.ArrayPosition > models.SlotsPerCarrier {
		return 0, models.Faultf(models.CodeInvalidPosition, "array position %d out of range", m.ArrayPosition)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO modules (batch_id, production_batch_id, module_sku, order_id,
			qsa_sequence, original_qsa_sequence, array_position, row_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'pending')`,
		m.BatchID, m.ProductionBatchID, m.ModuleSKU, m.OrderID,
		m.QsaSequence, m.QsaSequence, m.ArrayPosition)
	if err != nil {
		return 0, models.WrapFault(models.CodeInsertFailed, "adding module", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, models.WrapFault(models.CodeInsertFailed, "adding module", err)
	}
	return id, nil
}

// Batch loads one batch record.
func (s *BatchStore) Batch(ctx context.Context, id int64) (*models.Batch, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, module_count, row_count, status, created_by, created_at, completed_at
		FROM batches WHERE id = ?`, id)
	var b models.Batch
	var status, createdAt string
	var completedAt sql.NullString
	err := row.Scan(&b.ID, &b.Name, &b.ModuleCount, &b.RowCount, &status, &b.CreatedBy, &createdAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, models.Faultf(models.CodeNotFound, "batch %d not found", id)
	}
	if err != nil {
		return nil, models.WrapFault(models.CodeTransactionFailed, "loading batch", err)
	}
	b.Status = models.BatchStatus(status)
	b.CreatedAt = parseTime(createdAt)
	b.CompletedAt = parseTimePtr(completedAt)
	return &b, nil
}

// ActiveBatchCount counts in-progress batches other than excludeID.
func (s *BatchStore) ActiveBatchCount(ctx context.Context, excludeID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM batches WHERE status = 'in_progress' AND id != ?`, excludeID).Scan(&n)
	if err != nil {
		return 0, models.WrapFault(models.CodeTransactionFailed, "counting batches", err)
	}
	return n, nil
}

const moduleColumns = `id, batch_id, production_batch_id, module_sku, order_id,
	serial_number, qsa_sequence, original_qsa_sequence, array_position,
	row_status, engraved_at`

func (s *BatchStore) queryModules(ctx context.Context, where string, args ...interface{}) ([]models.Module, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+moduleColumns+` FROM modules WHERE `+where+
			` ORDER BY qsa_sequence, array_position, id`, args...)
	if err != nil {
		return nil, models.WrapFault(models.CodeTransactionFailed, "loading modules", err)
	}
	defer rows.Close()

	var out []models.Module
	for rows.Next() {
		var m models.Module
		var serial, engravedAt sql.NullString
		var status string
		if err := rows.Scan(&m.ID, &m.BatchID, &m.ProductionBatchID, &m.ModuleSKU,
			&m.OrderID, &serial, &m.QsaSequence, &m.OriginalQsaSequence,
			&m.ArrayPosition, &status, &engravedAt); err != nil {
			return nil, models.WrapFault(models.CodeTransactionFailed, "scanning module", err)
		}
		m.SerialNumber = serial.String
		m.RowStatus = models.RowStatus(status)
		m.EngravedAt = parseTimePtr(engravedAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ModulesForBatch returns all modules of a batch, optionally filtered by row
// status.
func (s *BatchStore) ModulesForBatch(ctx context.Context, batchID int64, rowStatus models.RowStatus) ([]models.Module, error) {
	if rowStatus != "" {
		return s.queryModules(ctx, `batch_id = ? AND row_status = ?`, batchID, string(rowStatus))
	}
	return s.queryModules(ctx, `batch_id = ?`, batchID)
}

// RowModules returns the logical row identified by original_qsa_sequence.
func (s *BatchStore) RowModules(ctx context.Context, batchID int64, originalQsaSeq int) ([]models.Module, error) {
	return s.queryModules(ctx, `batch_id = ? AND original_qsa_sequence = ?`, batchID, originalQsaSeq)
}

// CarrierModules returns the physical carrier identified by the current
// qsa_sequence.
func (s *BatchStore) CarrierModules(ctx context.Context, batchID int64, qsaSeq int) ([]models.Module, error) {
	return s.queryModules(ctx, `batch_id = ? AND qsa_sequence = ?`, batchID, qsaSeq)
}

// rowTransitions enumerates the legal row state machine edges.
var rowTransitions = map[models.RowStatus][]models.RowStatus{
	models.RowPending:    {models.RowInProgress},
	models.RowInProgress: {models.RowDone, models.RowPending},
	models.RowDone:       {models.RowPending},
}

func transitionAllowed(from, to models.RowStatus) bool {
	for _, t := range rowTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// UpdateRowStatus transitions every module of the logical row from `from` to
// `to` atomically. It fails with invalid_row_status when the row is not
// entirely in `from` (including when a concurrent caller already moved it).
func (s *BatchStore) UpdateRowStatus(ctx context.Context, batchID int64, originalQsaSeq int, from, to models.RowStatus) error {
	if !transitionAllowed(from, to) {
		return models.Faultf(models.CodeInvalidRowStatus, "row transition %s -> %s not allowed", from, to)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Retryablef(models.CodeTransactionFailed, "begin row transition: %v", err)
	}
	defer tx.Rollback()

	var total, matching int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(row_status = ?), 0) FROM modules
		WHERE batch_id = ? AND original_qsa_sequence = ?`,
		string(from), batchID, originalQsaSeq).Scan(&total, &matching)
	if err != nil {
		return models.WrapFault(models.CodeTransactionFailed, "checking row status", err)
	}
	if total == 0 {
		return models.Faultf(models.CodeNoModules, "no modules in batch %d row %d", batchID, originalQsaSeq)
	}
	if matching != total {
		return models.Faultf(models.CodeInvalidRowStatus,
			"row %d is not entirely %s", originalQsaSeq, from)
	}

	set := `row_status = ?`
	args := []interface{}{string(to)}
	if to == models.RowDone {
		set += `, engraved_at = ?`
		args = append(args, now())
	}
	if to == models.RowPending {
		set += `, engraved_at = NULL`
	}
	args = append(args, batchID, originalQsaSeq)
	if _, err := tx.ExecContext(ctx, `
		UPDATE modules SET `+set+` WHERE batch_id = ? AND original_qsa_sequence = ?`, args...); err != nil {
		return models.WrapFault(models.CodeUpdateFailed, "updating row status", err)
	}
	if err := tx.Commit(); err != nil {
		return models.Retryablef(models.CodeTransactionFailed, "commit row transition: %v", err)
	}
	return nil
}

// MarkRowDone transitions an in-progress row to done.
func (s *BatchStore) MarkRowDone(ctx context.Context, batchID int64, originalQsaSeq int) error {
	return s.UpdateRowStatus(ctx, batchID, originalQsaSeq, models.RowInProgress, models.RowDone)
}

// ResetRowStatus returns a done row to pending (rerun).
func (s *BatchStore) ResetRowStatus(ctx context.Context, batchID int64, originalQsaSeq int) error {
	return s.UpdateRowStatus(ctx, batchID, originalQsaSeq, models.RowDone, models.RowPending)
}

// LinkSerialsToModules writes the reserved serial numbers onto the row's
// modules. Modules and reservations are matched in carrier order (current
// qsa_sequence, then array position), which is the order the reservation was
// built in.
func (s *BatchStore) LinkSerialsToModules(ctx context.Context, batchID int64, originalQsaSeq int, reserved []models.ReservedSerial) error {
	mods, err := s.RowModules(ctx, batchID, originalQsaSeq)
	if err != nil {
		return err
	}
	if len(mods) == 0 {
		return models.Faultf(models.CodeNoModules, "no modules in batch %d row %d", batchID, originalQsaSeq)
	}
	if len(mods) != len(reserved) {
		return models.Faultf(models.CodeInvalidParams,
			"reservation size %d does not match row size %d", len(reserved), len(mods))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Retryablef(models.CodeTransactionFailed, "begin serial link: %v", err)
	}
	defer tx.Rollback()
	for i, m := range mods {
		if _, err := tx.ExecContext(ctx, `
			UPDATE modules SET serial_number = ? WHERE id = ?`,
			reserved[i].SerialNumber, m.ID); err != nil {
			return models.WrapFault(models.CodeUpdateFailed, "linking serial to module", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return models.Retryablef(models.CodeTransactionFailed, "commit serial link: %v", err)
	}
	return nil
}

// ClearSerialLinks removes serial links from a row (after voiding).
func (s *BatchStore) ClearSerialLinks(ctx context.Context, batchID int64, originalQsaSeq int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE modules SET serial_number = NULL
		WHERE batch_id = ? AND original_qsa_sequence = ?`, batchID, originalQsaSeq)
	if err != nil {
		return models.WrapFault(models.CodeUpdateFailed, "clearing serial links", err)
	}
	return nil
}

// IsBatchComplete reports whether every module row of the batch is done.
func (s *BatchStore) IsBatchComplete(ctx context.Context, batchID int64) (bool, error) {
	var total, done int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(row_status = 'done'), 0)
		FROM modules WHERE batch_id = ?`, batchID).Scan(&total, &done)
	if err != nil {
		return false, models.WrapFault(models.CodeTransactionFailed, "checking batch completion", err)
	}
	return total > 0 && total == done, nil
}

// CompleteBatch marks the batch completed.
func (s *BatchStore) CompleteBatch(ctx context.Context, batchID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE batches SET status = 'completed', completed_at = ?
		WHERE id = ? AND status = 'in_progress'`, now(), batchID)
	if err != nil {
		return models.WrapFault(models.CodeUpdateFailed, "completing batch", err)
	}
	return nil
}

// ReopenBatch reverts a completed batch to in_progress.
func (s *BatchStore) ReopenBatch(ctx context.Context, batchID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE batches SET status = 'in_progress', completed_at = NULL
		WHERE id = ? AND status = 'completed'`, batchID)
	if err != nil {
		return models.WrapFault(models.CodeUpdateFailed, "reopening batch", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Faultf(models.CodeBatchNotCompleted, "batch %d is not completed", batchID)
	}
	return nil
}

// RefreshCounts recomputes module_count and row_count (distinct current
// carriers) after creation or redistribution.
func (s *BatchStore) RefreshCounts(ctx context.Context, batchID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE batches SET
			module_count = (SELECT COUNT(*) FROM modules WHERE batch_id = ?),
			row_count = (SELECT COUNT(DISTINCT qsa_sequence) FROM modules WHERE batch_id = ?)
		WHERE id = ?`, batchID, batchID, batchID)
	if err != nil {
		return models.WrapFault(models.CodeUpdateFailed, "refreshing batch counts", err)
	}
	return nil
}

// CarrierSlot is one module placement produced by a redistribution.
type CarrierSlot struct {
	ModuleID      int64 `json:"moduleId"`
	ArrayPosition int   `json:"arrayPosition"`
}

// CarrierAssignment is one physical carrier produced by a redistribution.
type CarrierAssignment struct {
	QsaSequence int           `json:"qsaSequence"`
	Slots       []CarrierSlot `json:"slots"`
}

// RedistributeResult reports the new carrier layout and the carrier count
// change so the orchestrator can refresh the batch row_count.
type RedistributeResult struct {
	Arrays   []CarrierAssignment `json:"arrays"`
	OldCount int                 `json:"oldCount"`
	NewCount int                 `json:"newCount"`
}

// RedistributeRowModules re-flows the modules of the given logical rows onto
// carriers starting at startPosition:
//
//  1. The first carrier holds min(N, 9-startPosition) modules at slots
//     startPosition..8.
//  2. The rest fill full carriers of 8 at slots 1..8; the last may be partial.
//  3. Carrier sequences reuse the rows' existing qsa_sequence values in order
//     and extend past the batch's current maximum when more are needed.
//
// original_qsa_sequence is never touched. Refused unless every affected
// module is pending.
func (s *BatchStore) RedistributeRowModules(ctx context.Context, batchID int64, originalQsaSeqs []int, startPosition int) (*RedistributeResult, error) {
	if startPosition < 1 || startPosition > models.SlotsPerCarrier {
		return nil, models.Faultf(models.CodeInvalidPosition, "start position %d out of range", startPosition)
	}
	if len(originalQsaSeqs) == 0 {
		return nil, models.NewFault(models.CodeInvalidParams, "no rows selected")
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(originalQsaSeqs)), ",")
	args := []interface{}{batchID}
	for _, q := range originalQsaSeqs {
		args = append(args, q)
	}
	mods, err := s.queryModules(ctx,
		fmt.Sprintf(`batch_id = ? AND original_qsa_sequence IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, err
	}
	if len(mods) == 0 {
		return nil, models.Faultf(models.CodeNoModules, "no modules in selected rows")
	}
	for _, m := range mods {
		if m.RowStatus != models.RowPending {
			return nil, models.Faultf(models.CodeInvalidRowStatus,
				"row %d is %s; redistribution requires pending", m.OriginalQsaSequence, m.RowStatus)
		}
	}

	// Keep the creation order: original row, then the slot order inside it.
	sort.SliceStable(mods, func(i, j int) bool {
		if mods[i].OriginalQsaSequence != mods[j].OriginalQsaSequence {
			return mods[i].OriginalQsaSequence < mods[j].OriginalQsaSequence
		}
		return mods[i].ID < mods[j].ID
	})

	layout := CarrierLayout(len(mods), startPosition)

	// Sequence pool: the rows' current sequences first, then fresh ones past
	// the batch max.
	seqSet := map[int]bool{}
	var pool []int
	for _, m := range mods {
		if !seqSet[m.QsaSequence] {
			seqSet[m.QsaSequence] = true
			pool = append(pool, m.QsaSequence)
		}
	}
	sort.Ints(pool)
	oldCount := len(pool)

	if len(layout) > len(pool) {
		var maxSeq int
		err := s.db.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(qsa_sequence), 0) FROM modules WHERE batch_id = ?`, batchID).Scan(&maxSeq)
		if err != nil {
			return nil, models.WrapFault(models.CodeTransactionFailed, "reading batch max sequence", err)
		}
		for next := maxSeq + 1; len(pool) < len(layout); next++ {
			if seqSet[next] {
				continue
			}
			seqSet[next] = true
			pool = append(pool, next)
		}
	}
	pool = pool[:len(layout)]

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, models.Retryablef(models.CodeTransactionFailed, "begin redistribution: %v", err)
	}
	defer tx.Rollback()

	res := &RedistributeResult{OldCount: oldCount, NewCount: len(layout)}
	idx := 0
	for ci, slots := range layout {
		assign := CarrierAssignment{QsaSequence: pool[ci]}
		for _, pos := range slots {
			m := mods[idx]
			idx++
			if _, err := tx.ExecContext(ctx, `
				UPDATE modules SET qsa_sequence = ?, array_position = ? WHERE id = ?`,
				pool[ci], pos, m.ID); err != nil {
				return nil, models.WrapFault(models.CodeUpdateFailed, "rewriting module placement", err)
			}
			assign.Slots = append(assign.Slots, CarrierSlot{ModuleID: m.ID, ArrayPosition: pos})
		}
		res.Arrays = append(res.Arrays, assign)
	}
	if err := tx.Commit(); err != nil {
		return nil, models.Retryablef(models.CodeTransactionFailed, "commit redistribution: %v", err)
	}

	if err := s.RefreshCounts(ctx, batchID); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"batch": batchID, "carriers": len(layout), "modules": len(mods), "start": startPosition,
	}).Info("redistributed row modules")
	return res, nil
}

// CarrierLayout slices n modules into carrier slot lists for the given start
// position. Pure; shared with the batch sorter's carrier preview.
func CarrierLayout(n, startPosition int) [][]int {
	var layout [][]int
	pos := startPosition
	var current []int
	for i := 0; i < n; i++ {
		current = append(current, pos)
		pos++
		if pos > models.SlotsPerCarrier {
			layout = append(layout, current)
			current = nil
			pos = 1
		}
	}
	if len(current) > 0 {
		layout = append(layout, current)
	}
	return layout
}
