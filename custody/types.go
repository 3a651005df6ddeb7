/*
Package custody implements the supply-chain transaction kinds.

PURPOSE:
  Markets, producers, products, pallets and carriers are ledger accounts.
  Each transaction kind here is a ledger.Handler: it declares its read-set,
  validates the asset statically, and applies or exactly undoes its effect
  on the accounts it declared.

TRANSACTION KINDS:
  Kind  Name              Read-set
  8     Transfer          sender, recipientId
  20    RegisterMarket    marketId, sender
  30    RegisterProducer  producerId, sender
  40    RegisterProduct   productId
  50    RegisterPallet    palletId, sender, productId
  60    StartTransport    palletId, sender (the carrier)
  70    FinishTransport   palletId, sender, then pallet.carrier, pallet.sender
  80    UpdateProduct     productId, sender

PALLET LIFECYCLE:
  RegisterPallet   sender pays postage into the pallet account    -> pending
  StartTransport   carrier locks security on its own account       -> ongoing
  FinishTransport  recipient resolves; security + postage go to
                   the carrier ("success") or the sender (other)   -> success|fail

HANDLER DISCIPLINE:
  Every check runs before the first Set. Mutations are sequential
  get -> modify -> set per account so that aliased addresses (a sender
  that is also the carrier) see each other's effect.

AUTHORIZATION:
  Only FinishTransport checks the signer (it must be the pallet's
  recipient). Registrations do not check the signer's role.

SEE ALSO:
  - ../ledger/handler.go: Handler contract
  - registry.go: NewRegistry
*/
package custody

import "github.com/fitmarket/custody-ledger/ledger"

// =============================================================================
// KINDS - Routed on by the runtime
// =============================================================================

const (
	TypeTransfer         ledger.TransactionType = 8
	TypeRegisterMarket   ledger.TransactionType = 20
	TypeRegisterProducer ledger.TransactionType = 30
	TypeRegisterProduct  ledger.TransactionType = 40
	TypeRegisterPallet   ledger.TransactionType = 50
	TypeStartTransport   ledger.TransactionType = 60
	TypeFinishTransport  ledger.TransactionType = 70
	TypeUpdateProduct    ledger.TransactionType = 80
)

// Fee is the fixed fee of every custody transaction.
var Fee = ledger.ZeroAmount

// StatusSuccess is the FinishTransport status that pays the carrier. Any
// other status value resolves the pallet as failed.
const StatusSuccess = "success"

// TypeName returns a human-readable name for a kind.
func TypeName(t ledger.TransactionType) string {
	switch t {
	case TypeTransfer:
		return "transfer"
	case TypeRegisterMarket:
		return "register_market"
	case TypeRegisterProducer:
		return "register_producer"
	case TypeRegisterProduct:
		return "register_product"
	case TypeRegisterPallet:
		return "register_pallet"
	case TypeStartTransport:
		return "start_transport"
	case TypeFinishTransport:
		return "finish_transport"
	case TypeUpdateProduct:
		return "update_product"
	default:
		return "unknown"
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// fixedFee is embedded by every handler.
type fixedFee struct{}

func (fixedFee) Fee() ledger.Amount { return Fee }

func palletOf(acc ledger.Account) (ledger.Pallet, bool) {
	p, ok := acc.Meta().(ledger.Pallet)
	return p, ok
}

func productOf(acc ledger.Account) (ledger.Product, bool) {
	p, ok := acc.Meta().(ledger.Product)
	return p, ok
}

func addrPtr(a ledger.Address) *ledger.Address { return &a }

func amountPtr(a ledger.Amount) *ledger.Amount { return &a }
