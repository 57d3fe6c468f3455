package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/hisab-network/hisab/internal/domain"
)

// ─── Commission Calculator ──────────────────────────────────────────────────

// DefaultCommissionRate is the fallback percentage applied when a party
// has no commission configuration of its own.
const DefaultCommissionRate = 3.0

// CommissionAmount derives the commission magnitude for a party from the
// absolute reference amount. Parties configured WITH_COMMISSION and a
// positive rate use that rate; everyone else gets the default. The raw
// value is rounded half-up, with a floor of one currency unit whenever a
// positive raw value would otherwise round to zero.
func CommissionAmount(p *domain.Party, referenceAmount float64) float64 {
	rate := DefaultCommissionRate
	if p != nil && p.CommissionMode == domain.CommissionWith && p.CommissionRate > 0 {
		rate = p.CommissionRate
	}

	raw := decimal.NewFromFloat(referenceAmount).
		Mul(decimal.NewFromFloat(rate)).
		Div(decimal.NewFromInt(100))

	// decimal.Round is half away from zero, which is half-up for the
	// non-negative amounts handled here.
	rounded := raw.Round(0)
	if rounded.IsZero() && raw.IsPositive() {
		return 1
	}
	f, _ := rounded.Float64()
	return f
}

// CommissionSide resolves which side the commission posting takes for the
// owning party. TAKE moves value out (debit), GIVE moves value in
// (credit). Without explicit configuration the commission opposes the
// reference transaction's side.
func CommissionSide(p *domain.Party, reference domain.TxnType) domain.TxnType {
	if p != nil && p.CommissionMode == domain.CommissionWith {
		switch p.CommissionDirection {
		case domain.CommissionTake:
			return domain.TxnDebit
		case domain.CommissionGive:
			return domain.TxnCredit
		}
	}
	return reference.Opposite()
}
