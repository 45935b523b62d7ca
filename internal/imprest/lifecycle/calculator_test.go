package lifecycle

import (
	"testing"

	"github.com/bitfantasy/imprest/internal/imprest/entity"
)

func TestTotalAmount(t *testing.T) {
	if got := TotalAmount(nil); got != 0 {
		t.Fatalf("empty receipts should total 0, got %v", got)
	}

	receipts := []entity.Receipt{
		{Description: "fuel", Amount: 120.50},
		{Description: "lodging", Amount: 300},
		{Description: "meals", Amount: 79.50},
	}
	if got := TotalAmount(receipts); got != 500 {
		t.Fatalf("expected 500, got %v", got)
	}
}

func TestBalance(t *testing.T) {
	tests := []struct {
		name      string
		disbursed float64
		total     float64
		want      float64
	}{
		{"underspend", 900, 700, 200},
		{"exact", 500, 500, 0},
		{"overspend goes negative", 500, 620, -120},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Balance(tt.disbursed, tt.total); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
