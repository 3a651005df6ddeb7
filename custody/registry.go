package custody

import "github.com/fitmarket/custody-ledger/ledger"

// Handlers returns one handler per custody transaction kind.
func Handlers() []ledger.Handler {
	return []ledger.Handler{
		Transfer(),
		RegisterMarket(),
		RegisterProducer(),
		RegisterProduct(),
		RegisterPallet(),
		StartTransport(),
		FinishTransport(),
		UpdateProduct(),
	}
}

// NewRegistry returns a registry with every custody handler.
func NewRegistry() *ledger.Registry {
	return ledger.NewRegistry().MustRegister(Handlers()...)
}
