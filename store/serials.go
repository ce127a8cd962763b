package store

import (
	"context"
	"database/sql"

	"github.com/sirupsen/logrus"

	"github.com/quadi/qsa-engrave/models"
)

// SerialStore allocates, commits, and voids 20-bit serials.
//
// All mutations run inside immediate transactions; concurrent reservers
// serialize on the database write lock, so allocations stay contiguous within
// one caller and strictly monotonic across the deployment.
type SerialStore struct {
	db  *sql.DB
	log *logrus.Entry
}

func NewSerialStore(db *sql.DB, log *logrus.Logger) *SerialStore {
	return &SerialStore{db: db, log: log.WithField("store", "serials")}
}

// ReserveModule describes one slot of a reservation request. The row the
// serials belong to is the qsaSeq argument of Reserve.
type ReserveModule struct {
	ModuleSKU     string
	ArrayPosition int
}

// NextFree returns the next serial integer that a reservation would assign.
// Read-only; the value is advisory under concurrency.
func (s *SerialStore) NextFree(ctx context.Context) (int, error) {
	max, err := s.highestAssigned(ctx, s.db)
	if err != nil {
		return 0, models.WrapFault(models.CodeTransactionFailed, "reading serial high-water mark", err)
	}
	if max >= models.SerialMax {
		return 0, models.NewFault(models.CodeSerialExhausted, "serial pool exhausted")
	}
	return max + 1, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *SerialStore) highestAssigned(ctx context.Context, q querier) (int, error) {
	var max int
	err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(serial_integer), 0) FROM serials`).Scan(&max)
	return max, err
}

// Reserve allocates len(mods) sequential serials for one carrier row, all or
// nothing. The serials are created with status=reserved; commit or void are
// the only transitions out.
func (s *SerialStore) Reserve(ctx context.Context, batchID int64, qsaSeq int, mods []ReserveModule, createdBy string) ([]models.ReservedSerial, error) {
	if len(mods) == 0 {
		return nil, models.NewFault(models.CodeNoModules, "nothing to reserve")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, models.Retryablef(models.CodeTransactionFailed, "begin reserve: %v", err)
	}
	defer tx.Rollback()

	// The immediate transaction holds the write lock from here on, so this
	// max is stable until commit.
	max, err := s.highestAssigned(ctx, tx)
	if err != nil {
		return nil, models.WrapFault(models.CodeTransactionFailed, "reading serial high-water mark", err)
	}
	start := max + 1
	if start+len(mods)-1 > models.SerialMax {
		return nil, models.Faultf(models.CodeInsufficientCapacity,
			"need %d serials, only %d remain", len(mods), models.SerialMax-max)
	}

	ts := now()
	out := make([]models.ReservedSerial, 0, len(mods))
	for i, m := range mods {
		n := start + i
		_, err := tx.ExecContext(ctx, `
			INSERT INTO serials (serial_integer, serial_number, batch_id, module_sku,
				qsa_sequence, array_position, status, created_by, created_at)
			VALUES (?, ?, ?, ?, ?, ?, 'reserved', ?, ?)`,
			n, models.FormatSerial(n), batchID, m.ModuleSKU, qsaSeq, m.ArrayPosition, createdBy, ts)
		if err != nil {
			return nil, models.WrapFault(models.CodeInsertFailed, "inserting reserved serial", err)
		}
		out = append(out, models.ReservedSerial{
			SerialInteger: n,
			SerialNumber:  models.FormatSerial(n),
			ArrayPosition: m.ArrayPosition,
			ModuleSKU:     m.ModuleSKU,
		})
	}
	if err := tx.Commit(); err != nil {
		return nil, models.Retryablef(models.CodeTransactionFailed, "commit reserve: %v", err)
	}
	return out, nil
}

// Commit transitions all reserved serials of (batchID, qsaSeq) to engraved.
// Engraved is terminal. Returns the number of rows transitioned.
func (s *SerialStore) Commit(ctx context.Context, batchID int64, qsaSeq int) (int64, error) {
	return s.finalize(ctx, batchID, qsaSeq, `
		UPDATE serials SET status = 'engraved', engraved_at = ?
		WHERE batch_id = ? AND qsa_sequence = ? AND status = 'reserved'`)
}

// Void transitions all reserved serials of (batchID, qsaSeq) to voided.
// Voided is terminal; voided serial integers are never recycled.
func (s *SerialStore) Void(ctx context.Context, batchID int64, qsaSeq int) (int64, error) {
	return s.finalize(ctx, batchID, qsaSeq, `
		UPDATE serials SET status = 'voided', voided_at = ?
		WHERE batch_id = ? AND qsa_sequence = ? AND status = 'reserved'`)
}

func (s *SerialStore) finalize(ctx context.Context, batchID int64, qsaSeq int, query string) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, now(), batchID, qsaSeq)
	if err != nil {
		return 0, models.WrapFault(models.CodeUpdateFailed, "finalizing serials", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, models.WrapFault(models.CodeUpdateFailed, "finalizing serials", err)
	}
	return n, nil
}

// CountCommittable returns the number of still-reserved serials for a row.
func (s *SerialStore) CountCommittable(ctx context.Context, batchID int64, qsaSeq int) (int, error) {
	return s.countStatus(ctx, batchID, qsaSeq, models.SerialReserved)
}

// CountEngraved returns the number of engraved serials for a row. The
// orchestrator uses it to disambiguate commit races.
func (s *SerialStore) CountEngraved(ctx context.Context, batchID int64, qsaSeq int) (int, error) {
	return s.countStatus(ctx, batchID, qsaSeq, models.SerialEngraved)
}

func (s *SerialStore) countStatus(ctx context.Context, batchID int64, qsaSeq int, st models.SerialStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM serials
		WHERE batch_id = ? AND qsa_sequence = ? AND status = ?`,
		batchID, qsaSeq, string(st)).Scan(&n)
	if err != nil {
		return 0, models.WrapFault(models.CodeTransactionFailed, "counting serials", err)
	}
	return n, nil
}

// Capacity returns pool telemetry against the given thresholds.
func (s *SerialStore) Capacity(ctx context.Context, warnThreshold, critThreshold int) (models.Capacity, error) {
	max, err := s.highestAssigned(ctx, s.db)
	if err != nil {
		return models.Capacity{}, models.WrapFault(models.CodeTransactionFailed, "reading serial high-water mark", err)
	}
	remaining := models.SerialMax - max
	c := models.Capacity{
		HighestAssigned:   max,
		Remaining:         remaining,
		WarningThreshold:  warnThreshold,
		CriticalThreshold: critThreshold,
		Warning:           remaining <= warnThreshold,
		Critical:          remaining <= critThreshold,
	}
	if c.Critical {
		s.log.WithFields(logrus.Fields{"remaining": remaining}).Warn("serial capacity critical")
	}
	return c, nil
}

// Find returns the serial row for an 8-digit serial number, or a not_found
// fault. Used by the lookup endpoints.
func (s *SerialStore) Find(ctx context.Context, serialNumber string) (*models.Serial, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, serial_integer, serial_number, batch_id, module_sku,
			qsa_sequence, array_position, status, created_by, created_at,
			engraved_at, voided_at
		FROM serials WHERE serial_number = ?`, serialNumber)

	var sr models.Serial
	var status, createdAt string
	var engravedAt, voidedAt sql.NullString
	err := row.Scan(&sr.ID, &sr.SerialInteger, &sr.SerialNumber, &sr.BatchID,
		&sr.ModuleSKU, &sr.QsaSequence, &sr.ArrayPosition, &status,
		&sr.CreatedBy, &createdAt, &engravedAt, &voidedAt)
	if err == sql.ErrNoRows {
		return nil, models.Faultf(models.CodeNotFound, "serial %s not found", serialNumber)
	}
	if err != nil {
		return nil, models.WrapFault(models.CodeTransactionFailed, "loading serial", err)
	}
	sr.Status = models.SerialStatus(status)
	sr.CreatedAt = parseTime(createdAt)
	sr.EngravedAt = parseTimePtr(engravedAt)
	sr.VoidedAt = parseTimePtr(voidedAt)
	return &sr, nil
}

// RowSerials returns every serial ever issued to (batchID, qsaSeq), any
// status, ordered by array position. Diagnostic use.
func (s *SerialStore) RowSerials(ctx context.Context, batchID int64, qsaSeq int) ([]models.Serial, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, serial_integer, serial_number, batch_id, module_sku,
			qsa_sequence, array_position, status, created_by, created_at,
			engraved_at, voided_at
		FROM serials WHERE batch_id = ? AND qsa_sequence = ?
		ORDER BY array_position, serial_integer`, batchID, qsaSeq)
	if err != nil {
		return nil, models.WrapFault(models.CodeTransactionFailed, "loading row serials", err)
	}
	defer rows.Close()

	var out []models.Serial
	for rows.Next() {
		var sr models.Serial
		var status, createdAt string
		var engravedAt, voidedAt sql.NullString
		if err := rows.Scan(&sr.ID, &sr.SerialInteger, &sr.SerialNumber, &sr.BatchID,
			&sr.ModuleSKU, &sr.QsaSequence, &sr.ArrayPosition, &status,
			&sr.CreatedBy, &createdAt, &engravedAt, &voidedAt); err != nil {
			return nil, models.WrapFault(models.CodeTransactionFailed, "scanning serial", err)
		}
		sr.Status = models.SerialStatus(status)
		sr.CreatedAt = parseTime(createdAt)
		sr.EngravedAt = parseTimePtr(engravedAt)
		sr.VoidedAt = parseTimePtr(voidedAt)
		out = append(out, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, models.WrapFault(models.CodeTransactionFailed, "loading row serials", err)
	}
	return out, nil
}
