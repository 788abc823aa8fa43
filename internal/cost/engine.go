package cost

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ccnode/ccnode/internal/metrics"
	"github.com/ccnode/ccnode/internal/store"
	"github.com/ccnode/ccnode/internal/types"
)

// precisionCutoff is the instant before which recorded credit amounts are on
// the old scale and must be multiplied by precisionFactor to harmonize with
// the post-cutoff scale (spec §4.9 "A precision-cutoff rule multiplies
// pre-cutoff amounts by 10 000 ... applied at insertion time").
var precisionCutoff = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

const precisionFactor = 10000

// Engine computes AccountCosts rows and evaluates the credit FIFO ledger
// (spec §4.9). It satisfies handlers.CostEngine and the balance/credit
// accessors the pipeline's admission check uses.
type Engine struct {
	store   store.Store
	metrics *metrics.Metrics
}

// New constructs an Engine. m may be nil, in which case cost counters are
// not recorded.
func New(st store.Store, m *metrics.Metrics) *Engine {
	return &Engine{store: st, metrics: m}
}

// timeline rebuilds the pricing timeline from the current PRICE aggregate
// elements. Cheap enough to redo per call given in-memory storage; a
// Postgres-backed Store would cache this behind the Aggregate's dirty flag.
func (e *Engine) timeline() *Timeline {
	return NewTimeline(e.store.Aggregates().ElementsFor(priceAggregateKey, SystemPricingOwner))
}

// priceTypeFor maps a VM's shape to the ProductPriceType its compute_unit
// and storage rates are drawn from (spec §4.9 "Determine ProductPriceType
// from message content").
func priceTypeFor(vm *types.VM, isProgram, persistent bool) types.ProductPriceType {
	switch {
	case isProgram && persistent:
		return types.PriceProgramPersistent
	case isProgram:
		return types.PriceProgram
	case vm.Environment.Reproducible && !vm.Environment.Internet:
		return types.PriceInstanceConfidential
	default:
		return types.PriceInstance
	}
}

// MaterializeCosts computes and upserts every AccountCosts row for vm (spec
// §4.9 "Cost computation for a VM/PROGRAM/STORE message").
func (e *Engine) MaterializeCosts(ctx context.Context, tx store.Tx, vm *types.VM, owner string) error {
	model := e.timeline().At(vm.Created)

	isProgram := false
	persistent := false
	if prog, ok := e.store.VMs().GetProgram(vm.ItemHash); ok {
		isProgram = true
		persistent = prog.Persistent
	}
	instance, isInstance := e.store.VMs().GetInstance(vm.ItemHash)

	priceType := priceTypeFor(vm, isProgram, persistent)
	pricing := model[priceType]

	computeUnitsRequired := computeUnits(vm.VCPUs, vm.MemoryMiB, pricing.ComputeUnit.MemoryMiB)
	includedDiskMiB := pricing.ComputeUnit.DiskMiB * computeUnitsRequired

	volumesSize := volumesSizeMiB(vm.Volumes)
	rootfsSize := uint64(0)
	if isInstance {
		rootfsSize = instance.Rootfs.SizeMiB
	}
	totalSize := volumesSize + rootfsSize
	additionalDisk := uint64(0)
	if totalSize > includedDiskMiB {
		additionalDisk = totalSize - includedDiskMiB
	}

	resourceRate := func(rp types.ResourcePrice) types.Decimal {
		if vm.PaymentType == types.PaymentHold {
			return rp.Holding
		}
		return rp.PAYG
	}

	computePrice := decimal.NewFromInt(int64(computeUnitsRequired)).Mul(resourceRate(pricing.Price.ComputeUnit))
	diskPrice := decimal.NewFromInt(int64(additionalDisk)).Mul(resourceRate(pricing.Price.Storage))

	if err := e.store.Costs().DeleteForMessage(vm.ItemHash); err != nil {
		return err
	}

	rows := []types.AccountCosts{
		costRow(vm, owner, types.CostExecution, "compute", vm.PaymentType, computePrice),
		costRow(vm, owner, types.CostStorage, "storage", vm.PaymentType, diskPrice),
	}
	if isInstance {
		rows = append(rows, costRow(vm, owner, types.CostInstanceVolumeRootfs, "rootfs", vm.PaymentType, types.Zero))
	}
	for i, vol := range vm.Volumes {
		ct := types.CostVolumeImmutable
		if vol.Persistence == types.VolumePersistent {
			ct = types.CostVolumePersistent
		}
		rows = append(rows, costRow(vm, owner, ct, fmt.Sprintf("volume-%d", i), vm.PaymentType, types.Zero))
	}
	if isProgram {
		rows = append(rows,
			costRow(vm, owner, types.CostProgramVolumeCode, "code", vm.PaymentType, types.Zero),
			costRow(vm, owner, types.CostProgramVolumeRuntime, "runtime", vm.PaymentType, types.Zero),
		)
		if prog, ok := e.store.VMs().GetProgram(vm.ItemHash); ok && prog.DataVolume != nil {
			rows = append(rows, costRow(vm, owner, types.CostProgramVolumeData, "data", vm.PaymentType, types.Zero))
		}
	}

	for _, row := range rows {
		if _, err := e.store.Costs().Upsert(row); err != nil {
			return err
		}
	}
	if e.metrics != nil {
		e.metrics.CostsMaterialized.Inc()
	}
	return nil
}

func costRow(vm *types.VM, owner string, ct types.CostType, name string, pt types.PaymentType, price types.Decimal) types.AccountCosts {
	row := types.AccountCosts{Owner: owner, ItemHash: vm.ItemHash, Type: ct, Name: name, PaymentType: pt}
	switch pt {
	case types.PaymentHold:
		row.CostHold = price
	case types.PaymentSuperfluid:
		row.CostStream = price
	case types.PaymentCredit:
		row.CostStream = price
		row.CostCredit = price
	}
	return row
}

// computeUnits is ceil(max(vcpus, memory_mib / unit.memory_mib)) (spec
// §4.9).
func computeUnits(vcpus, memoryMiB, unitMemoryMiB uint64) uint64 {
	fromMemory := 0.0
	if unitMemoryMiB > 0 {
		fromMemory = float64(memoryMiB) / float64(unitMemoryMiB)
	}
	units := math.Max(float64(vcpus), fromMemory)
	return uint64(math.Ceil(units))
}

func volumesSizeMiB(vols []types.MachineVolume) uint64 {
	var total uint64
	for _, v := range vols {
		total += v.SizeMiB
	}
	return total
}

// CurrentCostForSender sums the live cost_hold lines for owner, used by the
// balance check (spec §4.9 "balance(sender) >= current_cost_for_sender +
// new_cost").
func (e *Engine) CurrentCostForSender(owner string) types.Decimal {
	total := types.Zero
	for _, c := range e.store.Costs().ForOwner(owner) {
		total = total.Add(c.CostHold)
	}
	return total
}

// EstimateHoldCost computes the held-type compute+storage cost for vm
// without persisting AccountCosts rows (spec §4.9 "balance(sender) >=
// current_cost_for_sender + new_cost"). isProgram/persistent/rootfsSizeMiB
// are passed in rather than read back from the VM/Program store rows
// because this runs during admission (CheckPermissions), before Process has
// inserted them — unlike MaterializeCosts, which runs after.
func (e *Engine) EstimateHoldCost(vm *types.VM, isProgram, persistent bool, rootfsSizeMiB uint64) types.Decimal {
	model := e.timeline().At(vm.Created)
	priceType := priceTypeFor(vm, isProgram, persistent)
	pricing := model[priceType]

	computeUnitsRequired := computeUnits(vm.VCPUs, vm.MemoryMiB, pricing.ComputeUnit.MemoryMiB)
	includedDiskMiB := pricing.ComputeUnit.DiskMiB * computeUnitsRequired

	totalSize := volumesSizeMiB(vm.Volumes) + rootfsSizeMiB
	additionalDisk := uint64(0)
	if totalSize > includedDiskMiB {
		additionalDisk = totalSize - includedDiskMiB
	}

	computePrice := decimal.NewFromInt(int64(computeUnitsRequired)).Mul(pricing.Price.ComputeUnit.Holding)
	diskPrice := decimal.NewFromInt(int64(additionalDisk)).Mul(pricing.Price.Storage.Holding)
	return computePrice.Add(diskPrice)
}

// CheckHoldBalance implements the hold payment-type admission check (spec
// §4.9 "Balance check").
func (e *Engine) CheckHoldBalance(sender string, chain types.Chain, dapp string, newCost types.Decimal) error {
	bal, ok := e.store.VMs().GetBalance(sender, chain, dapp)
	if !ok {
		return types.NewPermanent(types.KindPermissionDenied, "no balance on record for sender")
	}
	required := e.CurrentCostForSender(sender).Add(newCost)
	if bal.Balance.LessThan(required) {
		if e.metrics != nil {
			e.metrics.HoldBalanceDenied.Inc()
		}
		return types.NewPermanent(types.KindPermissionDenied, "insufficient balance to cover hold cost")
	}
	return nil
}

// InsertCreditHistory applies the precision-cutoff scale-up at insertion
// time (spec §4.9 "applied at insertion time") and appends the row.
func (e *Engine) InsertCreditHistory(h types.CreditHistory) error {
	if h.MessageTimestamp.Before(precisionCutoff) {
		h.Amount *= precisionFactor
		if h.BonusAmount != nil {
			scaled := *h.BonusAmount * precisionFactor
			h.BonusAmount = &scaled
		}
	}
	return e.store.Credits().Insert(h)
}

// GetCreditBalance evaluates the FIFO ledger for address at now, using the
// CreditBalance cache fast path when valid (spec §4.9 "Credit FIFO ledger").
func (e *Engine) GetCreditBalance(address string, now time.Time) int64 {
	if cached, ok := e.store.Credits().GetBalance(address); ok {
		maxUpdate, hasHistory := e.store.Credits().MaxLastUpdate(address)
		noNewerHistory := !hasHistory || !maxUpdate.After(cached.LastUpdate)
		noExpiringSince := !e.store.Credits().ExpirationsInRange(address, cached.LastUpdate, now)
		if noNewerHistory && noExpiringSince {
			return cached.Balance
		}
	}

	balance := e.recomputeFIFO(address, now)
	_ = e.store.Credits().PutBalance(types.CreditBalance{Address: address, Balance: balance, LastUpdate: now})
	return balance
}

// recomputeFIFO replays every CreditHistory row for address in
// message_timestamp order, consuming the oldest still-valid positive
// credits against each negative expense, and sums what remains valid at now
// (spec §4.9 step 2).
func (e *Engine) recomputeFIFO(address string, now time.Time) int64 {
	history := e.store.Credits().HistoryFor(address)

	type lot struct {
		remaining  int64
		expiration *time.Time
	}
	var credits []*lot

	for _, h := range history {
		if h.Amount >= 0 {
			credits = append(credits, &lot{remaining: h.Amount, expiration: h.ExpirationDate})
			continue
		}
		expense := -h.Amount
		for _, c := range credits {
			if expense <= 0 {
				break
			}
			if c.remaining <= 0 {
				continue
			}
			if c.expiration != nil && !c.expiration.After(h.MessageTimestamp) {
				continue
			}
			take := expense
			if take > c.remaining {
				take = c.remaining
			}
			c.remaining -= take
			expense -= take
		}
	}

	var total int64
	for _, c := range credits {
		if c.remaining <= 0 {
			continue
		}
		if c.expiration != nil && !c.expiration.After(now) {
			continue
		}
		total += c.remaining
	}
	return total
}
