// Package cost implements the pricing timeline and AccountCosts/credit FIFO
// engine (spec §4.9). Grounded on the teacher's aggregate-projection pattern
// (handlers.aggregateHandler's deep-merge) generalized to a system-owned
// PRICE aggregate, and on the credit ledger's oldest-first consumption order
// which mirrors the teacher's nonce/sequence bookkeeping in
// core/cross_chain.go. Monetary arithmetic uses shopspring/decimal
// throughout (types.Decimal) since float64 cannot represent the exact
// per-second billing rates spec §4.9 requires.
package cost

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ccnode/ccnode/internal/types"
)

// priceAggregateKey and SystemPricingOwner identify the system-owned
// pricing Aggregate the timeline is built from (spec §4.9 "Pricing is
// itself an aggregate (key=PRICE, owner = a fixed system address)").
const priceAggregateKey = "PRICE"

// SystemPricingOwner is the fixed system address pricing updates must come
// from; configurable so test fixtures can use a short sentinel value.
var SystemPricingOwner = "SYSTEM_PRICING_AUTHORITY"

// defaultModel is the built-in pricing model covering t before the first
// pricing AggregateElement (spec §4.9 "A built-in default model covers
// t < first aggregate").
func defaultModel() map[types.ProductPriceType]types.PricingModel {
	unit := types.ComputeUnit{VCPUs: 1, MemoryMiB: 2048, DiskMiB: 20480}
	flat := types.PricingModel{ComputeUnit: unit}
	flat.Price.ComputeUnit = types.ResourcePrice{Holding: types.Zero, PAYG: types.Zero}
	flat.Price.Storage = types.ResourcePrice{Holding: types.Zero, PAYG: types.Zero}

	m := make(map[types.ProductPriceType]types.PricingModel)
	for _, t := range []types.ProductPriceType{
		types.PriceStorage, types.PriceProgram, types.PriceProgramPersistent,
		types.PriceInstance, types.PriceInstanceConfidential,
		types.PriceInstanceGPUStandard, types.PriceInstanceGPUPremium,
		types.PriceWeb3Hosting,
	} {
		m[t] = flat
	}
	return m
}

// Timeline answers "what was the effective pricing model at time t" by
// deep-merging every pricing AggregateElement with creation_datetime <= t,
// in order (spec §4.9 "Build once by scanning AggregateElements in order and
// merging into a model map").
type Timeline struct {
	elements []types.AggregateElement
}

// NewTimeline scans the store's PRICE aggregate elements once.
func NewTimeline(elements []types.AggregateElement) *Timeline {
	sorted := append([]types.AggregateElement(nil), elements...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].CreationDatetime.Before(sorted[j].CreationDatetime)
	})
	return &Timeline{elements: sorted}
}

// At returns the effective pricing model map for time t.
func (tl *Timeline) At(t time.Time) map[types.ProductPriceType]types.PricingModel {
	model := defaultModel()
	for _, e := range tl.elements {
		if e.CreationDatetime.After(t) {
			break
		}
		applyPricingElement(model, e.Content)
	}
	return model
}

// applyPricingElement deep-merges one AggregateElement's content onto the
// running pricing model, keyed by ProductPriceType (spec §4.9).
func applyPricingElement(model map[types.ProductPriceType]types.PricingModel, content map[string]any) {
	for rawType, rawEntry := range content {
		entry, ok := rawEntry.(map[string]any)
		if !ok {
			continue
		}
		pt := types.ProductPriceType(rawType)
		m := model[pt]

		if cu, ok := entry["compute_unit"].(map[string]any); ok {
			if v, ok := cu["vcpus"].(float64); ok {
				m.ComputeUnit.VCPUs = uint64(v)
			}
			if v, ok := cu["memory_mib"].(float64); ok {
				m.ComputeUnit.MemoryMiB = uint64(v)
			}
			if v, ok := cu["disk_mib"].(float64); ok {
				m.ComputeUnit.DiskMiB = uint64(v)
			}
		}
		if price, ok := entry["price"].(map[string]any); ok {
			if cu, ok := price["compute_unit"].(map[string]any); ok {
				m.Price.ComputeUnit = decimalPricePair(cu, m.Price.ComputeUnit)
			}
			if st, ok := price["storage"].(map[string]any); ok {
				m.Price.Storage = decimalPricePair(st, m.Price.Storage)
			}
		}
		model[pt] = m
	}
}

func decimalPricePair(m map[string]any, cur types.ResourcePrice) types.ResourcePrice {
	if v, ok := m["holding"]; ok {
		if d, ok := decimalFromAny(v); ok {
			cur.Holding = d
		}
	}
	if v, ok := m["payg"]; ok {
		if d, ok := decimalFromAny(v); ok {
			cur.PAYG = d
		}
	}
	return cur
}

// decimalFromAny accepts either a JSON string (exact) or a JSON number
// (float64, as encoding/json decodes numbers into interface{}) for a
// pricing figure.
func decimalFromAny(v any) (types.Decimal, bool) {
	switch x := v.(type) {
	case string:
		d, err := decimal.NewFromString(x)
		if err != nil {
			return types.Zero, false
		}
		return d, true
	case float64:
		return decimal.NewFromFloat(x), true
	default:
		return types.Zero, false
	}
}
