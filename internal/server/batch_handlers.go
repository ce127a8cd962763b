package server

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/quadi/qsa-engrave/models"
	"github.com/quadi/qsa-engrave/sorter"
)

// handleModulesAwaiting lists host-catalog lots not yet engraved, tagged with
// their canonical design resolution and grouped by (design, order).
func (s *Server) handleModulesAwaiting(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	if _, ok := s.staff(w, r); !ok {
		return
	}

	lots, err := s.catalog.Awaiting(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	resolver, err := s.skus.Resolver(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}

	grouped := map[[2]string]*AwaitingGroup{}
	var order [][2]string
	for _, lot := range lots {
		al := AwaitingLot{CatalogModule: lot}
		if res := resolver.Resolve(lot.ModuleSKU); res != nil {
			al.CanonicalCode = res.CanonicalCode
			al.Revision = res.Revision
			al.IsLegacy = res.IsLegacy
			al.Compatible = true
		}
		key := [2]string{al.CanonicalCode, lot.OrderID}
		g, ok := grouped[key]
		if !ok {
			g = &AwaitingGroup{Design: al.CanonicalCode, OrderID: lot.OrderID}
			grouped[key] = g
			order = append(order, key)
		}
		g.Lots = append(g.Lots, al)
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i][0] != order[j][0] {
			return order[i][0] < order[j][0]
		}
		return order[i][1] < order[j][1]
	})
	out := make([]AwaitingGroup, 0, len(order))
	for _, key := range order {
		out = append(out, *grouped[key])
	}
	s.ok(w, out)
}

func validateSelections(selections []sorter.Selection) error {
	if len(selections) == 0 {
		return models.NewFault(models.CodeNoModules, "no selections")
	}
	for _, sel := range selections {
		if sel.ModuleSKU == "" {
			return models.NewFault(models.CodeInvalidParams, "selection missing SKU")
		}
		if sel.Qty < 1 {
			return models.Faultf(models.CodeInvalidParams, "qty %d for %s", sel.Qty, sel.ModuleSKU)
		}
	}
	return nil
}

func normalizeStartPosition(p int) (int, error) {
	if p == 0 {
		return 1, nil
	}
	if p < 1 || p > models.SlotsPerCarrier {
		return 0, models.Faultf(models.CodeInvalidPosition, "start position %d out of range", p)
	}
	return p, nil
}

// handlePreviewBatch runs expand+sort+slice without persisting anything.
func (s *Server) handlePreviewBatch(w http.ResponseWriter, r *http.Request) {
	if !s.requirePost(w, r) {
		return
	}
	if _, ok := s.staff(w, r); !ok {
		return
	}
	var req PreviewBatchRequest
	if err := s.readJSON(r, &req); err != nil {
		s.fail(w, models.WrapFault(models.CodeInvalidParams, "malformed preview request", err))
		return
	}
	if err := validateSelections(req.Selections); err != nil {
		s.fail(w, err)
		return
	}
	start, err := normalizeStartPosition(req.StartPosition)
	if err != nil {
		s.fail(w, err)
		return
	}

	sorted := sorter.Sort(sorter.Expand(req.Selections))
	s.ok(w, PreviewBatchResponse{
		Carriers:    sorter.AssignToCarriers(sorted, start),
		ModuleCount: len(sorted),
		Transitions: sorter.CountTransitions(sorted),
		LedCodes:    sorter.DistinctLEDCodes(sorted),
	})
}

// handleCreateBatch persists a previewed batch: one module row per placed
// instance, carriers numbered from 1.
func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	if !s.requirePost(w, r) {
		return
	}
	user, ok := s.staff(w, r)
	if !ok {
		return
	}
	var req CreateBatchRequest
	if err := s.readJSON(r, &req); err != nil {
		s.fail(w, models.WrapFault(models.CodeInvalidParams, "malformed create request", err))
		return
	}
	if err := validateSelections(req.Selections); err != nil {
		s.fail(w, err)
		return
	}
	start, err := normalizeStartPosition(req.StartPosition)
	if err != nil {
		s.fail(w, err)
		return
	}

	sorted := sorter.Sort(sorter.Expand(req.Selections))
	carriers := sorter.AssignToCarriers(sorted, start)

	name := req.Name
	if name == "" {
		name = "batch"
	}
	batchID, err := s.batches.CreateBatch(r.Context(), name, user.Username)
	if err != nil {
		s.fail(w, err)
		return
	}
	for ci, carrier := range carriers {
		for _, pm := range carrier {
			_, err := s.batches.AddModule(r.Context(), models.Module{
				BatchID:           batchID,
				ProductionBatchID: pm.ProductionBatchID,
				ModuleSKU:         pm.ModuleSKU,
				OrderID:           pm.OrderID,
				QsaSequence:       ci + 1,
				ArrayPosition:     pm.ArrayPosition,
			})
			if err != nil {
				s.fail(w, err)
				return
			}
		}
	}
	if err := s.batches.RefreshCounts(r.Context(), batchID); err != nil {
		s.fail(w, err)
		return
	}

	s.users.Audit(r.Context(), user.Username, "create", "batches", strconv.FormatInt(batchID, 10),
		"modules="+strconv.Itoa(len(sorted)))
	s.events.Broadcast(WSMessage{Type: "batch", Data: map[string]interface{}{"batchId": batchID, "status": "created"}})
	s.ok(w, CreateBatchResponse{BatchID: batchID})
}

// handleQueue returns the row groupings of a batch plus pool capacity and the
// count of other active batches.
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	if _, ok := s.staff(w, r); !ok {
		return
	}
	batchID, err := strconv.ParseInt(r.URL.Query().Get("batchId"), 10, 64)
	if err != nil {
		s.fail(w, models.NewFault(models.CodeInvalidParams, "missing or malformed batchId"))
		return
	}

	batch, err := s.batches.Batch(r.Context(), batchID)
	if err != nil {
		s.fail(w, err)
		return
	}
	mods, err := s.batches.ModulesForBatch(r.Context(), batchID, "")
	if err != nil {
		s.fail(w, err)
		return
	}

	groups := map[int]*RowGroup{}
	var seqs []int
	for _, m := range mods {
		g, ok := groups[m.OriginalQsaSequence]
		if !ok {
			g = &RowGroup{QsaSequence: m.OriginalQsaSequence, Status: m.RowStatus}
			groups[m.OriginalQsaSequence] = g
			seqs = append(seqs, m.OriginalQsaSequence)
		}
		g.Modules = append(g.Modules, m)
	}
	sort.Ints(seqs)
	rowsOut := make([]RowGroup, 0, len(seqs))
	for _, q := range seqs {
		rowsOut = append(rowsOut, *groups[q])
	}

	cfg := s.config()
	capacity, err := s.serials.Capacity(r.Context(), cfg.WarningThreshold, cfg.CriticalThreshold)
	if err != nil {
		s.fail(w, err)
		return
	}
	active, err := s.batches.ActiveBatchCount(r.Context(), batchID)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.ok(w, QueueResponse{Batch: batch, Rows: rowsOut, Capacity: capacity, OtherActiveBatches: active})
}
