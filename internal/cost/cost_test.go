package cost

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccnode/ccnode/internal/store"
	"github.com/ccnode/ccnode/internal/types"
)

func TestComputeUnits(t *testing.T) {
	assert.Equal(t, uint64(1), computeUnits(1, 1024, 2048))
	assert.Equal(t, uint64(2), computeUnits(1, 4096, 2048))
	assert.Equal(t, uint64(4), computeUnits(4, 2048, 2048))
}

func TestMaterializeCostsHoldInstance(t *testing.T) {
	st := store.New()
	e := New(st, nil)

	vm := &types.VM{
		ItemHash:    "vm-1",
		VCPUs:       1,
		MemoryMiB:   2048,
		PaymentType: types.PaymentHold,
		Created:     time.Now().UTC(),
	}
	require.NoError(t, st.VMs().PutInstance(types.Instance{VM: *vm}))

	ctx := context.Background()
	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, e.MaterializeCosts(ctx, tx, vm, "owner-1"))
	require.NoError(t, tx.Commit())

	rows := st.Costs().ForMessage("vm-1")
	require.NotEmpty(t, rows)

	var execRow *types.AccountCosts
	for i := range rows {
		if rows[i].Type == types.CostExecution {
			execRow = &rows[i]
		}
	}
	require.NotNil(t, execRow, "expected an EXECUTION cost row")
	assert.True(t, execRow.CostHold.GreaterThanOrEqual(decimal.Zero))
	assert.True(t, execRow.CostStream.IsZero(), "hold payment type should not populate the stream column")
}

func TestCheckHoldBalanceInsufficientFunds(t *testing.T) {
	st := store.New()
	e := New(st, nil)

	require.NoError(t, st.VMs().PutBalance(types.Balance{
		Address: "sender-1",
		Chain:   types.ChainETH,
		Balance: decimal.NewFromInt(10),
	}))

	err := e.CheckHoldBalance("sender-1", types.ChainETH, "", decimal.NewFromInt(20))
	require.Error(t, err)
	pe, ok := types.AsProcessingError(err)
	require.True(t, ok)
	assert.Equal(t, types.KindPermissionDenied, pe.Kind)
}

func TestCheckHoldBalanceSufficientFunds(t *testing.T) {
	st := store.New()
	e := New(st, nil)

	require.NoError(t, st.VMs().PutBalance(types.Balance{
		Address: "sender-1",
		Chain:   types.ChainETH,
		Balance: decimal.NewFromInt(100),
	}))

	assert.NoError(t, e.CheckHoldBalance("sender-1", types.ChainETH, "", decimal.NewFromInt(20)))
}

func TestCreditFIFOBalanceConsumesOldestLotsFirst(t *testing.T) {
	st := store.New()
	e := New(st, nil)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, e.InsertCreditHistory(types.CreditHistory{
		Address: "addr-1", Amount: 100, MessageTimestamp: base,
	}))
	require.NoError(t, e.InsertCreditHistory(types.CreditHistory{
		Address: "addr-1", Amount: 50, MessageTimestamp: base.Add(time.Hour),
	}))
	require.NoError(t, e.InsertCreditHistory(types.CreditHistory{
		Address: "addr-1", Amount: -120, MessageTimestamp: base.Add(2 * time.Hour),
	}))

	balance := e.GetCreditBalance("addr-1", base.Add(3*time.Hour))
	assert.Equal(t, int64(30), balance, "expense should drain the oldest lot before the newer one")
}

func TestCreditFIFORespectsExpiration(t *testing.T) {
	st := store.New()
	e := New(st, nil)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	expiry := base.Add(time.Hour)
	require.NoError(t, e.InsertCreditHistory(types.CreditHistory{
		Address: "addr-2", Amount: 100, MessageTimestamp: base, ExpirationDate: &expiry,
	}))

	assert.Equal(t, int64(100), e.GetCreditBalance("addr-2", base.Add(30*time.Minute)))
	assert.Equal(t, int64(0), e.GetCreditBalance("addr-2", base.Add(2*time.Hour)), "expired credit must not count toward balance")
}

func TestInsertCreditHistoryAppliesPrecisionCutoffScaling(t *testing.T) {
	st := store.New()
	e := New(st, nil)

	preCutoff := precisionCutoff.Add(-time.Hour)
	require.NoError(t, e.InsertCreditHistory(types.CreditHistory{
		Address: "addr-3", Amount: 5, MessageTimestamp: preCutoff,
	}))

	history := st.Credits().HistoryFor("addr-3")
	require.Len(t, history, 1)
	assert.Equal(t, int64(5*precisionFactor), history[0].Amount)
}

func TestTimelineFallsBackToDefaultModelBeforeFirstElement(t *testing.T) {
	tl := NewTimeline(nil)
	model := tl.At(time.Now())
	entry, ok := model[types.PriceInstance]
	require.True(t, ok)
	assert.True(t, entry.Price.ComputeUnit.Holding.IsZero())
}

func TestTimelineMergesElementsUpToT(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tl := NewTimeline([]types.AggregateElement{
		{
			CreationDatetime: base,
			Content: map[string]any{
				"INSTANCE": map[string]any{
					"price": map[string]any{
						"compute_unit": map[string]any{"holding": "1.5"},
					},
				},
			},
		},
		{
			CreationDatetime: base.Add(time.Hour),
			Content: map[string]any{
				"INSTANCE": map[string]any{
					"price": map[string]any{
						"compute_unit": map[string]any{"holding": "2.5"},
					},
				},
			},
		},
	})

	early := tl.At(base.Add(30 * time.Minute))
	assert.True(t, early[types.PriceInstance].Price.ComputeUnit.Holding.Equal(decimal.NewFromFloat(1.5)))

	late := tl.At(base.Add(2 * time.Hour))
	assert.True(t, late[types.PriceInstance].Price.ComputeUnit.Holding.Equal(decimal.NewFromFloat(2.5)))
}
