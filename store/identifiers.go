package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/quadi/qsa-engrave/models"
)

// IdentifierStore issues QSA IDs from per-design sequence counters.
//
// GetOrCreate is idempotent on (batch, qsa_sequence): regenerating artwork for
// a row returns the identifier issued the first time, so the engraved QR code
// never changes across retries.
type IdentifierStore struct {
	db  *sql.DB
	log *logrus.Entry
}

func NewIdentifierStore(db *sql.DB, log *logrus.Logger) *IdentifierStore {
	return &IdentifierStore{db: db, log: log.WithField("store", "identifiers")}
}

// GetOrCreate returns the QSA ID for (batchID, qsaSeq), allocating the next
// sequence number for design on first use.
func (s *IdentifierStore) GetOrCreate(ctx context.Context, batchID int64, qsaSeq int, design string) (string, error) {
	design = strings.ToUpper(strings.TrimSpace(design))
	if !models.ValidDesign(design) {
		return "", models.Faultf(models.CodeInvalidParams, "invalid design code %q", design)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", models.Retryablef(models.CodeTransactionFailed, "begin identifier allocation: %v", err)
	}
	defer tx.Rollback()

	if id, ok, err := s.existing(ctx, tx, batchID, qsaSeq); err != nil {
		return "", err
	} else if ok {
		return id, nil
	}

	// Single-statement atomic counter bump. Rolls back with the transaction,
	// so a failed insert below does not burn a sequence number.
	var seq int
	err = tx.QueryRowContext(ctx, `
		INSERT INTO design_sequences (design, current_sequence) VALUES (?, 1)
		ON CONFLICT(design) DO UPDATE SET current_sequence = current_sequence + 1
		RETURNING current_sequence`, design).Scan(&seq)
	if err != nil {
		return "", models.WrapFault(models.CodeTransactionFailed, "advancing design sequence", err)
	}
	if seq > models.SequenceMax {
		return "", models.Faultf(models.CodeSequenceExhausted, "design %s exhausted its sequence space", design)
	}

	qsaID := models.FormatQSAID(design, seq)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO identifiers (qsa_id, design, sequence_number, batch_id, qsa_sequence, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		qsaID, design, seq, batchID, qsaSeq, now())
	if err != nil {
		// A concurrent caller won the (batch_id, qsa_sequence) unique index.
		// Re-read outside this transaction and return the winner's ID.
		if isUniqueViolation(err) {
			_ = tx.Rollback()
			if id, ok, rerr := s.existing(ctx, s.db, batchID, qsaSeq); rerr == nil && ok {
				return id, nil
			}
		}
		return "", models.WrapFault(models.CodeInsertFailed, "inserting identifier", err)
	}
	if err := tx.Commit(); err != nil {
		return "", models.Retryablef(models.CodeTransactionFailed, "commit identifier allocation: %v", err)
	}
	s.log.WithFields(logrus.Fields{"qsaId": qsaID, "batch": batchID, "row": qsaSeq}).Info("issued QSA ID")
	return qsaID, nil
}

func (s *IdentifierStore) existing(ctx context.Context, q querier, batchID int64, qsaSeq int) (string, bool, error) {
	var id string
	err := q.QueryRowContext(ctx, `
		SELECT qsa_id FROM identifiers WHERE batch_id = ? AND qsa_sequence = ?`,
		batchID, qsaSeq).Scan(&id)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, models.WrapFault(models.CodeTransactionFailed, "looking up identifier", err)
	}
	return id, true, nil
}

// Find returns the identifier record for a QSA ID string.
func (s *IdentifierStore) Find(ctx context.Context, qsaID string) (*models.Identifier, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, qsa_id, design, sequence_number, batch_id, qsa_sequence, created_at
		FROM identifiers WHERE qsa_id = ?`, qsaID)

	var ident models.Identifier
	var createdAt string
	err := row.Scan(&ident.ID, &ident.QSAID, &ident.Design, &ident.SequenceNumber,
		&ident.BatchID, &ident.QsaSequence, &createdAt)
	if err == sql.ErrNoRows {
		return nil, models.Faultf(models.CodeNotFound, "identifier %s not found", qsaID)
	}
	if err != nil {
		return nil, models.WrapFault(models.CodeTransactionFailed, "loading identifier", err)
	}
	ident.CreatedAt = parseTime(createdAt)
	return &ident, nil
}

// ForRow returns the QSA ID already issued to (batchID, qsaSeq), if any.
func (s *IdentifierStore) ForRow(ctx context.Context, batchID int64, qsaSeq int) (string, bool, error) {
	return s.existing(ctx, s.db, batchID, qsaSeq)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed")
}
