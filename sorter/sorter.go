// Package sorter expands operator selections into individual module
// instances, orders them to minimize LED-code transitions on the engraving
// line, and slices them onto carriers.
//
// Everything here is pure: the orchestrator persists the result.
package sorter

import (
	"sort"
	"strings"

	"github.com/quadi/qsa-engrave/models"
)

// Selection is one operator-selected lot: a SKU, the order it belongs to, and
// how many boards of it to engrave.
type Selection struct {
	ModuleSKU         string   `json:"moduleSku"`
	OrderID           string   `json:"orderId"`
	Qty               int      `json:"qty"`
	ProductionBatchID string   `json:"productionBatchId"`
	LedCodes          []string `json:"ledCodes"`
}

// ModuleInstance is one physical board produced by expanding a selection.
type ModuleInstance struct {
	ModuleSKU         string   `json:"moduleSku"`
	OrderID           string   `json:"orderId"`
	ProductionBatchID string   `json:"productionBatchId"`
	LedCodes          []string `json:"ledCodes"`
}

// PlacedModule is a module instance assigned to a carrier slot.
type PlacedModule struct {
	ModuleInstance
	ArrayPosition int `json:"arrayPosition"`
}

// Expand turns selections into qty individual instances, preserving
// selection order.
func Expand(selections []Selection) []ModuleInstance {
	var out []ModuleInstance
	for _, sel := range selections {
		for i := 0; i < sel.Qty; i++ {
			out = append(out, ModuleInstance{
				ModuleSKU:         sel.ModuleSKU,
				OrderID:           sel.OrderID,
				ProductionBatchID: sel.ProductionBatchID,
				LedCodes:          sel.LedCodes,
			})
		}
	}
	return out
}

// ledKey joins the LED-code tuple into one comparable sort key.
func ledKey(codes []string) string { return strings.Join(codes, "\x00") }

// Sort orders instances so adjacent modules share as long an LED-code prefix
// as possible: a stable lexicographic sort on (LED codes, SKU, order). The
// greedy sort is deterministic, which matters more here than squeezing out
// the last transition.
func Sort(instances []ModuleInstance) []ModuleInstance {
	out := make([]ModuleInstance, len(instances))
	copy(out, instances)
	sort.SliceStable(out, func(i, j int) bool {
		ki, kj := ledKey(out[i].LedCodes), ledKey(out[j].LedCodes)
		if ki != kj {
			return ki < kj
		}
		if out[i].ModuleSKU != out[j].ModuleSKU {
			return out[i].ModuleSKU < out[j].ModuleSKU
		}
		return out[i].OrderID < out[j].OrderID
	})
	return out
}

// AssignToCarriers slices sorted instances onto carriers. The first carrier
// starts at startPosition; all following carriers start at slot 1.
func AssignToCarriers(sorted []ModuleInstance, startPosition int) [][]PlacedModule {
	if startPosition < 1 || startPosition > models.SlotsPerCarrier {
		startPosition = 1
	}
	var carriers [][]PlacedModule
	var current []PlacedModule
	pos := startPosition
	for _, inst := range sorted {
		current = append(current, PlacedModule{ModuleInstance: inst, ArrayPosition: pos})
		pos++
		if pos > models.SlotsPerCarrier {
			carriers = append(carriers, current)
			current = nil
			pos = 1
		}
	}
	if len(current) > 0 {
		carriers = append(carriers, current)
	}
	return carriers
}

// CountTransitions counts adjacent pairs whose LED-code tuples differ.
func CountTransitions(sorted []ModuleInstance) int {
	n := 0
	for i := 1; i < len(sorted); i++ {
		if ledKey(sorted[i].LedCodes) != ledKey(sorted[i-1].LedCodes) {
			n++
		}
	}
	return n
}

// DistinctLEDCodes returns the distinct individual LED codes across the
// instances, sorted.
func DistinctLEDCodes(instances []ModuleInstance) []string {
	seen := map[string]bool{}
	for _, inst := range instances {
		for _, c := range inst.LedCodes {
			if c != "" {
				seen[c] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
