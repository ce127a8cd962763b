package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/sirupsen/logrus"
)

// CatalogModule is one host-catalog lot awaiting engraving. The catalog
// itself lives in the host application; the catalog_modules table is a
// read-mostly mirror the host sync writes into.
type CatalogModule struct {
	ID                int64    `json:"id"`
	ProductionBatchID string   `json:"productionBatchId"`
	ModuleSKU         string   `json:"moduleSku"`
	OrderID           string   `json:"orderId"`
	Qty               int      `json:"qty"`
	LedCodes          []string `json:"ledCodes"`
}

// CatalogStore reads the mirrored host catalog.
type CatalogStore struct {
	db  *sql.DB
	log *logrus.Entry
}

func NewCatalogStore(db *sql.DB, log *logrus.Logger) *CatalogStore {
	return &CatalogStore{db: db, log: log.WithField("store", "catalog")}
}

// Awaiting lists catalog lots not yet engraved, in stable order.
func (s *CatalogStore) Awaiting(ctx context.Context) ([]CatalogModule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, production_batch_id, module_sku, order_id, qty, led_codes
		FROM catalog_modules WHERE engraved = 0
		ORDER BY module_sku, order_id, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CatalogModule
	for rows.Next() {
		var cm CatalogModule
		var codes string
		if err := rows.Scan(&cm.ID, &cm.ProductionBatchID, &cm.ModuleSKU, &cm.OrderID, &cm.Qty, &codes); err != nil {
			return nil, err
		}
		if codes != "" {
			cm.LedCodes = strings.Split(codes, ",")
		}
		out = append(out, cm)
	}
	return out, rows.Err()
}

// Add inserts a lot; used by the host sync and by tests.
func (s *CatalogStore) Add(ctx context.Context, cm CatalogModule) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO catalog_modules (production_batch_id, module_sku, order_id, qty, led_codes)
		VALUES (?, ?, ?, ?, ?)`,
		cm.ProductionBatchID, cm.ModuleSKU, cm.OrderID, cm.Qty, strings.Join(cm.LedCodes, ","))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// LedCodesFor returns the LED code tuple for a module's originating lot.
// ok is false when the lot is no longer mirrored; the composer reports that
// as an LED resolution failure.
func (s *CatalogStore) LedCodesFor(ctx context.Context, productionBatchID, moduleSKU, orderID string) ([]string, bool, error) {
	var codes string
	err := s.db.QueryRowContext(ctx, `
		SELECT led_codes FROM catalog_modules
		WHERE production_batch_id = ? AND module_sku = ? AND order_id = ?
		ORDER BY id LIMIT 1`, productionBatchID, moduleSKU, orderID).Scan(&codes)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if codes == "" {
		return nil, true, nil
	}
	return strings.Split(codes, ","), true, nil
}

// MarkEngraved flags a lot as consumed once its batch completes.
func (s *CatalogStore) MarkEngraved(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE catalog_modules SET engraved = 1 WHERE id = ?`, id)
	return err
}
