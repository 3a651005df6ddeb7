package custody_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitmarket/custody-ledger/custody"
	"github.com/fitmarket/custody-ledger/factory"
	"github.com/fitmarket/custody-ledger/ledger"
	"github.com/fitmarket/custody-ledger/ledger/store"
)

// =============================================================================
// APPLY / UNDO SYMMETRY
// =============================================================================

var everyAddress = []ledger.Address{producerID, marketID, productID, palletID, carrierID, strangerID}

func TestUndo_RestoresPreState_EveryKind(t *testing.T) {
	// GIVEN: A pre-state where the transaction applies cleanly
	// WHEN: Applying it and discarding the pending block (undo)
	// THEN: Every account equals its pre-state field for field

	loc := factory.Location{Name: "Mercado", Latitude: -31.4, Longitude: -64.2}
	fit := factory.FitParams{Organic: "yes", NoTACC: "no", TransFat: "0g", DailyUnits: ledger.NewQuantity(3)}

	cases := []struct {
		name  string
		setup func(h *harness)
		tx    func() ledger.Transaction
	}{
		{"transfer", nil, func() ledger.Transaction {
			return factory.Transfer(producerID, strangerID, ledger.NewAmount(123))
		}},
		{"register_market", nil, func() ledger.Transaction {
			return factory.RegisterMarket(producerID, strangerID, loc)
		}},
		{"register_producer", nil, func() ledger.Transaction {
			return factory.RegisterProducer(producerID, strangerID, loc)
		}},
		{"register_product", nil, func() ledger.Transaction {
			return factory.RegisterProduct(producerID, strangerID, factory.ProductParams{
				Barcode: "1", Batch: "2", Name: "Yerba", ProducedQuantity: ledger.NewQuantity(40),
				ProducedDate: "2024-03-01", DueDate: "2025-03-01",
			})
		}},
		{"register_pallet", nil, func() ledger.Transaction {
			return factory.RegisterPallet(producerID, palletID, palletParams(10000))
		}},
		{"start_transport", func(h *harness) {
			h.submit(factory.RegisterPallet(producerID, palletID, palletParams(10000)))
			h.commit()
		}, func() ledger.Transaction {
			return factory.StartTransport(carrierID, palletID)
		}},
		{"finish_transport_success", func(h *harness) {
			h.submit(factory.RegisterPallet(producerID, palletID, palletParams(10000)))
			h.submit(factory.StartTransport(carrierID, palletID))
			h.commit()
		}, func() ledger.Transaction {
			return factory.FinishTransport(recipientID, palletID, custody.StatusSuccess)
		}},
		{"finish_transport_fail", func(h *harness) {
			h.submit(factory.RegisterPallet(producerID, palletID, palletParams(10000)))
			h.submit(factory.StartTransport(carrierID, palletID))
			h.commit()
		}, func() ledger.Transaction {
			return factory.FinishTransport(recipientID, palletID, "lost")
		}},
		{"update_product", nil, func() ledger.Transaction {
			return factory.UpdateProduct(marketID, productID, fit)
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t,
				funded(producerID, 1000),
				funded(carrierID, 1000),
				product(productID, 10000, 10000),
			)
			if tc.setup != nil {
				tc.setup(h)
			}
			before := h.snapshot(everyAddress...)

			h.submit(tc.tx())
			n, err := h.chain.DiscardPending(h.ctx)

			require.NoError(t, err)
			assert.Equal(t, 1, n)
			h.assertUnchanged(before)
		})
	}
}

func TestRevertLastBlock_RestoresCommittedState(t *testing.T) {
	// GIVEN: A committed block with the whole pallet lifecycle
	// WHEN: Reverting it
	// THEN: Accounts return to the pre-block state and the block is gone

	h := newHarness(t,
		funded(producerID, 1000),
		funded(carrierID, 1000),
		product(productID, 10000, 10000),
	)
	before := h.snapshot(everyAddress...)

	h.submit(factory.RegisterPallet(producerID, palletID, palletParams(6000)))
	h.submit(factory.StartTransport(carrierID, palletID))
	h.submit(factory.FinishTransport(recipientID, palletID, custody.StatusSuccess))
	h.submit(factory.UpdateProduct(marketID, productID, factory.FitParams{
		Organic: "y", NoTACC: "y", TransFat: "n", DailyUnits: ledger.NewQuantity(1),
	}))
	block := h.commit()
	require.Equal(t, uint64(1), block.Height)

	reverted, err := h.chain.RevertLastBlock(h.ctx)

	require.NoError(t, err)
	assert.Equal(t, block.Hash, reverted.Hash)
	h.assertUnchanged(before)
	latest, err := h.chain.LatestBlock(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), latest.Height)
}

func TestRegisterPallet_PrefundedPallet_UndoIsExact(t *testing.T) {
	// GIVEN: The pallet address already holds a balance
	// WHEN: Registering and undoing the pallet
	// THEN: The original balance is restored, not zeroed

	h := newHarness(t, funded(producerID, 1000), funded(palletID, 42), product(productID, 10, 10))
	before := h.snapshot(producerID, palletID, productID)

	h.submit(factory.RegisterPallet(producerID, palletID, palletParams(10)))
	assert.Equal(t, "542", h.account(palletID).Balance.String())

	_, err := h.chain.DiscardPending(h.ctx)
	require.NoError(t, err)
	h.assertUnchanged(before)
}

// =============================================================================
// CONSERVATION
// =============================================================================

func TestQuantityConservation(t *testing.T) {
	// GIVEN: Product with produced quantity 10000
	// WHEN: Registering pallets and undoing some of them
	// THEN: remaining + outstanding pallet quantities == produced

	h := newHarness(t, funded(producerID, 10000), product(productID, 10000, 10000))

	pallets := map[ledger.Address]int64{"pallet-a": 3000, "pallet-b": 2500, "pallet-c": 4500}
	for _, addr := range []ledger.Address{"pallet-a", "pallet-b", "pallet-c"} {
		h.submit(factory.RegisterPallet(producerID, addr, palletParams(pallets[addr])))
	}
	h.commit()

	assertConserved := func() {
		t.Helper()
		p := productMeta(t, h.account(productID))
		total := p.RemainingQuantity
		for addr := range pallets {
			if meta, ok := h.account(addr).Metadata.(ledger.Pallet); ok {
				total = total.Add(meta.ProductQuantity)
			}
		}
		assert.Equal(t, "10000", total.String())
	}
	assertConserved()
	assert.Equal(t, "0", productMeta(t, h.account(productID)).RemainingQuantity.String())

	err := h.reject(factory.RegisterPallet(producerID, "pallet-d", palletParams(1)))
	assert.ErrorIs(t, err, ledger.ErrInsufficientQuantity)

	_, err = h.chain.RevertLastBlock(h.ctx)
	require.NoError(t, err)
	assertConserved()
	assert.Equal(t, "10000", productMeta(t, h.account(productID)).RemainingQuantity.String())
}

func TestEscrowConservation(t *testing.T) {
	// GIVEN: Sender 1000 and carrier 1000
	// WHEN: Walking a pallet through its lifecycle
	// THEN: sender + carrier + pallet balances + locked security stay at 2000

	h := newHarness(t, funded(producerID, 1000), funded(carrierID, 1000), product(productID, 10, 10))

	total := func() ledger.Amount {
		sum := ledger.ZeroAmount
		for _, addr := range []ledger.Address{producerID, carrierID, palletID} {
			acc := h.account(addr)
			sum = sum.Add(acc.Balance)
			if locked := ledger.LockedSecurity(acc); locked != nil {
				sum = sum.Add(*locked)
			}
		}
		return sum
	}

	h.submit(factory.RegisterPallet(producerID, palletID, palletParams(10)))
	assert.Equal(t, "2000", total().String())

	h.submit(factory.StartTransport(carrierID, palletID))
	assert.Equal(t, "2000", total().String())

	h.submit(factory.FinishTransport(recipientID, palletID, "fail"))
	assert.Equal(t, "2000", total().String())
	assert.True(t, h.account(palletID).Balance.IsZero())
}

// =============================================================================
// ALIASING
// =============================================================================

func TestSenderIsCarrier_FailureResolvesToSameAccount(t *testing.T) {
	// GIVEN: The pallet sender also carries it
	// WHEN: The transport fails
	// THEN: The single account receives security + postage and ends where it started

	h := newHarness(t, funded(producerID, 1000), product(productID, 10, 10))
	before := h.snapshot(producerID)

	h.submit(factory.RegisterPallet(producerID, palletID, palletParams(10)))
	h.submit(factory.StartTransport(producerID, palletID))
	assert.Equal(t, "250", h.account(producerID).Balance.String())

	h.submit(factory.FinishTransport(recipientID, palletID, "fail"))

	acc := h.account(producerID)
	assert.Equal(t, "1000", acc.Balance.String())
	assert.Nil(t, ledger.LockedSecurity(acc))
	h.assertUnchanged(before)

	_, err := h.chain.DiscardPending(h.ctx)
	require.NoError(t, err)
	h.assertUnchanged(before)
}

func TestCarrierWithEscrow_CannotStartSecondTransport(t *testing.T) {
	h := newHarness(t, funded(producerID, 2000), funded(carrierID, 1000), product(productID, 10, 10))
	h.submit(factory.RegisterPallet(producerID, palletID, palletParams(5)))
	h.submit(factory.RegisterPallet(producerID, "pallet-2", palletParams(5)))
	h.submit(factory.StartTransport(carrierID, palletID))
	before := h.snapshot(carrierID, "pallet-2")

	err := h.reject(factory.StartTransport(carrierID, "pallet-2"))

	assert.ErrorIs(t, err, ledger.ErrRoleConflict)
	h.assertUnchanged(before)
}

// =============================================================================
// HANDLER-LEVEL UNDO GUARDS
// =============================================================================

func TestUndo_WithoutApply_ReportsDomainError(t *testing.T) {
	// GIVEN: A store where the pallet was never started
	// WHEN: Undoing StartTransport directly
	// THEN: A domain error and no staged writes

	backend := store.NewMemory()
	backend.Seed(funded(carrierID, 1000))
	state := ledger.NewStateStore(backend)
	h := custody.StartTransport()
	tx := factory.StartTransport(carrierID, palletID)
	require.NoError(t, state.Prefetch(context.Background(), h.ReadSet(&tx)))

	errs := h.Undo(&tx, state)

	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ledger.ErrNotRegistered)
	assert.Empty(t, state.Dirty())
}

func TestRegistry_HasEveryKind(t *testing.T) {
	types := custody.NewRegistry().Types()

	assert.Equal(t, []ledger.TransactionType{
		custody.TypeTransfer,
		custody.TypeRegisterMarket,
		custody.TypeRegisterProducer,
		custody.TypeRegisterProduct,
		custody.TypeRegisterPallet,
		custody.TypeStartTransport,
		custody.TypeFinishTransport,
		custody.TypeUpdateProduct,
	}, types)
	for _, kind := range types {
		h, ok := custody.NewRegistry().Lookup(kind)
		require.True(t, ok)
		assert.True(t, h.Fee().IsZero(), custody.TypeName(kind))
	}
}
