// Package rating holds the ladder's rating math. It has no state and no I/O.
package rating

import "math"

const (
	// BaseK scales every rating change.
	BaseK = 24
	// MarginStep is the multiplier bonus per kill of margin.
	MarginStep = 0.15
	// MaxMargin caps the margin that still earns a bonus.
	MaxMargin = 5
	// MinGain is the least a winner ever gains.
	MinGain = 5
)

// Expected returns the winner's expected score against the loser.
// E = 1 / (1 + 10^((loser - winner) / 400))
func Expected(winnerRating, loserRating int) float64 {
	exponent := float64(loserRating-winnerRating) / 400.0
	return 1.0 / (1.0 + math.Pow(10, exponent))
}

// MarginMultiplier maps a kill margin onto [1.15, 1.75].
func MarginMultiplier(killMargin int) float64 {
	return 1 + float64(min(max(killMargin, 1), MaxMargin))*MarginStep
}

// ComputeChange returns the winner's gain and the loser's loss for one match.
// The gain is never below MinGain and the loss is always its exact negation.
func ComputeChange(winnerRating, loserRating, killMargin int) (winnerGain, loserLoss int) {
	raw := BaseK * MarginMultiplier(killMargin) * (1 - Expected(winnerRating, loserRating))
	winnerGain = int(math.Round(raw))
	if winnerGain < MinGain {
		winnerGain = MinGain
	}
	return winnerGain, -winnerGain
}

// Apply adds delta to current, flooring the result at 0.
func Apply(current, delta int) int {
	return max(0, current+delta)
}
