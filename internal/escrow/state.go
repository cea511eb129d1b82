package escrow

import "github.com/example/care-match/internal/models"

// State is an escrow transaction's position in the payment flow.
type State string

const (
	StatePending  State = "PENDING"
	StateHeld     State = "HELD_IN_ESCROW"
	StateReleased State = "RELEASED"
	StateRefunded State = "REFUNDED"
	StateFailed   State = "FAILED"
)

// allowedTransitions encodes the ledger flow. FAILED is retryable by
// re-entering PENDING; RELEASED and REFUNDED are terminal.
var allowedTransitions = map[State][]State{
	StatePending: {StateHeld, StateFailed},
	StateHeld:    {StateReleased, StateRefunded},
	StateFailed:  {StatePending},
}

func CanTransition(from, to State) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// DefaultFeePercent is the platform's cut of the gross amount.
const DefaultFeePercent int64 = 10

// SplitFee computes the deterministic platform fee / provider payout
// split. The fee is round-half-up in the smallest currency unit and the
// two parts always sum exactly to the gross amount.
func SplitFee(gross models.Money, feePercent int64) (fee, payout models.Money) {
	f := (gross.Amount*feePercent + 50) / 100
	fee = models.Money{Amount: f, Currency: gross.Currency}
	payout = models.Money{Amount: gross.Amount - f, Currency: gross.Currency}
	return fee, payout
}
