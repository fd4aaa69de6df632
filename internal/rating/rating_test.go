package rating

import (
	"math"
	"testing"
)

func TestComputeChange_EqualRatingsMarginOne(t *testing.T) {
	gain, loss := ComputeChange(1000, 1000, 1)
	if gain != 14 || loss != -14 {
		t.Fatalf("expected +14/-14, got %+d/%d", gain, loss)
	}
}

func TestComputeChange_MarginThree(t *testing.T) {
	// 24 * 1.45 * 0.5 = 17.4
	gain, loss := ComputeChange(1000, 1000, 3)
	if gain != 17 || loss != -17 {
		t.Fatalf("expected +17/-17, got %+d/%d", gain, loss)
	}
}

func TestComputeChange_MarginSaturates(t *testing.T) {
	g5, _ := ComputeChange(1200, 1000, 5)
	g100, _ := ComputeChange(1200, 1000, 100)
	if g5 != g100 {
		t.Fatalf("margin 100 should behave like 5: %d vs %d", g100, g5)
	}
	if m := MarginMultiplier(100); math.Abs(m-1.75) > 1e-9 {
		t.Fatalf("multiplier should cap at 1.75, got %v", m)
	}
}

func TestComputeChange_MarginClampedToOne(t *testing.T) {
	g0, _ := ComputeChange(1000, 1000, 0)
	gNeg, _ := ComputeChange(1000, 1000, -7)
	g1, _ := ComputeChange(1000, 1000, 1)
	if g0 != g1 || gNeg != g1 {
		t.Fatalf("margins below 1 should clamp to 1: got %d, %d, want %d", g0, gNeg, g1)
	}
}

func TestComputeChange_MinimumGain(t *testing.T) {
	gain, loss := ComputeChange(3000, 100, 1)
	if gain != MinGain || loss != -MinGain {
		t.Fatalf("expected floor of %d, got %+d/%d", MinGain, gain, loss)
	}
}

func TestComputeChange_Invariants(t *testing.T) {
	ratings := []int{0, 1, 250, 800, 1000, 1017, 1500, 2400, 4000}
	for _, w := range ratings {
		for _, l := range ratings {
			for m := 1; m <= 12; m++ {
				gain, loss := ComputeChange(w, l, m)
				if gain < MinGain {
					t.Fatalf("gain %d < %d for w=%d l=%d m=%d", gain, MinGain, w, l, m)
				}
				if loss != -gain {
					t.Fatalf("loss %d != -gain %d for w=%d l=%d m=%d", loss, gain, w, l, m)
				}
			}
		}
	}
}

func TestComputeChange_UnderdogGainsMore(t *testing.T) {
	underdog, _ := ComputeChange(900, 1300, 2)
	favourite, _ := ComputeChange(1300, 900, 2)
	if underdog <= favourite {
		t.Fatalf("underdog gain %d should exceed favourite gain %d", underdog, favourite)
	}
}

func TestApply_FloorsAtZero(t *testing.T) {
	if got := Apply(3, -14); got != 0 {
		t.Fatalf("Apply(3, -14) = %d, want 0", got)
	}
	if got := Apply(1000, 17); got != 1017 {
		t.Fatalf("Apply(1000, 17) = %d, want 1017", got)
	}
}
