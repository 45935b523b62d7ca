package lifecycle

import "github.com/bitfantasy/imprest/internal/imprest/entity"

// TotalAmount sums the submitted receipt amounts. Deterministic: the same
// receipt list always yields the same total.
func TotalAmount(receipts []entity.Receipt) float64 {
	var total float64
	for _, rc := range receipts {
		total += rc.Amount
	}
	return total
}

// Balance 余额 = 实际放款金额 - 凭证合计，可为负（超支只报告，不禁止）
func Balance(disbursed, total float64) float64 {
	return disbursed - total
}
