// Package budget computes per-exchange output token budgets from empirical
// per-record token costs, and shrinks the requested record count when a
// batch cannot fit under the output ceiling.
package budget

import (
	"math"

	"github.com/clarigen/clarigen/internal/config"
)

// bufferFloor is the minimum safety multiplier applied to the raw estimate.
// Small batches get a larger buffer because their per-record variance is
// proportionally higher; the multiplier tapers linearly down to the floor as
// the batch approaches referenceCount records.
const (
	bufferFloor    = 1.3
	bufferCeiling  = 1.5
	referenceCount = 50.0
)

// fitBuffer is the multiplier used when asking how many records fit under
// the ceiling, deliberately tighter than the request-side buffer so a
// shrunken batch still carries slack.
const fitBuffer = 1.2

// Estimator turns (rounds, record count) pairs into max_tokens values.
type Estimator struct {
	cfg       *config.Config
	ceiling   int
	reasoning bool
	reserve   int
}

// NewEstimator builds an estimator from the loaded configuration.
func NewEstimator(cfg *config.Config) *Estimator {
	reserve := 0
	if cfg.Model.Reasoning {
		reserve = cfg.Model.ReasoningReserveTokens
	}
	return &Estimator{
		cfg:       cfg,
		ceiling:   cfg.Model.MaxOutputTokens,
		reasoning: cfg.Model.Reasoning,
		reserve:   reserve,
	}
}

// Ceiling returns the configured hard output limit.
func (e *Estimator) Ceiling() int {
	return e.ceiling
}

// Budget returns the max_tokens value for generating needed records of the
// given round count. The estimate is per-record cost times count, inflated
// by a buffer that shrinks as the batch grows, plus the reasoning reserve
// when the model thinks before answering. The result never exceeds the
// configured ceiling.
func (e *Estimator) Budget(rounds, needed int) int {
	if needed < 1 {
		needed = 1
	}
	per := e.cfg.PerRoundTokens(rounds)

	ratio := bufferCeiling - (bufferCeiling-bufferFloor)*(float64(needed)/referenceCount)
	if ratio < bufferFloor {
		ratio = bufferFloor
	}

	estimate := int(math.Ceil(float64(per*needed)*ratio)) + e.reserve
	if estimate > e.ceiling {
		return e.ceiling
	}
	return estimate
}

// FitCount returns the largest record count whose estimated output fits
// under the ceiling for the given round count, never less than 1. The task
// controller uses this to shrink a batch instead of requesting output the
// model cannot deliver.
func (e *Estimator) FitCount(rounds int) int {
	per := e.cfg.PerRoundTokens(rounds)
	usable := e.ceiling - e.reserve
	if usable < per {
		return 1
	}
	count := int(float64(usable) / (float64(per) * fitBuffer))
	if count < 1 {
		return 1
	}
	return count
}

// Fits reports whether the requested count's estimate stays strictly under
// the ceiling, i.e. the batch would not need shrinking.
func (e *Estimator) Fits(rounds, needed int) bool {
	if needed < 1 {
		needed = 1
	}
	per := e.cfg.PerRoundTokens(rounds)
	ratio := bufferCeiling - (bufferCeiling-bufferFloor)*(float64(needed)/referenceCount)
	if ratio < bufferFloor {
		ratio = bufferFloor
	}
	estimate := int(math.Ceil(float64(per*needed)*ratio)) + e.reserve
	return estimate <= e.ceiling
}
