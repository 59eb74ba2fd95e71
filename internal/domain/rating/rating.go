// Package rating holds the pure scoring functions applied to a
// finished session: a four-component quality rating and the output
// variance between an original run and its replay.
package rating

import (
	"math"

	"github.com/rrh1441/agentops-replay/internal/domain/kpi"
)

// BaselineCost is the reference cost (USD) a session's spend is scored
// against.
const BaselineCost = 0.001

// Recommendation strings, chosen by priority: temperature, then cost,
// then latency.
const (
	RecommendTemperature = "use temperature=0"
	RecommendCost        = "reduce cost"
	RecommendLatency     = "optimize latency"
	RecommendOptimal     = "optimal configuration"
)

// Breakdown holds the four component scores, each on a 1-5 scale.
type Breakdown struct {
	Speed           int `json:"speed"`
	Cost            int `json:"cost"`
	Reproducibility int `json:"reproducibility"`
	Accuracy        int `json:"accuracy"`
}

// Rating is the reproducibility-aware quality score for one session.
type Rating struct {
	Stars          int       `json:"stars"`
	Breakdown      Breakdown `json:"breakdown"`
	CostMultiplier float64   `json:"costMultiplier"`
	Recommendation string    `json:"recommendation"`
}

// Rate scores a session from its latency, cost, temperature, and
// validation outcome. Reproducibility is binary: only temperature zero
// earns credit.
func Rate(latencyMS int64, cost, temperature float64, validationPassed bool) Rating {
	b := Breakdown{
		Speed:           speedScore(latencyMS),
		Cost:            costScore(cost),
		Reproducibility: 1,
		Accuracy:        1,
	}
	if temperature == 0 {
		b.Reproducibility = 5
	}
	if validationPassed {
		b.Accuracy = 5
	}

	stars := int(math.Round(float64(b.Speed+b.Cost+b.Reproducibility+b.Accuracy) / 4))

	return Rating{
		Stars:          stars,
		Breakdown:      b,
		CostMultiplier: math.Round(cost/BaselineCost*10) / 10,
		Recommendation: recommend(latencyMS, cost, temperature),
	}
}

func speedScore(latencyMS int64) int {
	switch {
	case latencyMS < 500:
		return 5
	case latencyMS < 1000:
		return 4
	case latencyMS < 2000:
		return 3
	case latencyMS < 3000:
		return 2
	default:
		return 1
	}
}

func costScore(cost float64) int {
	switch {
	case cost < BaselineCost:
		return 5
	case cost < 2*BaselineCost:
		return 4
	case cost < 3*BaselineCost:
		return 3
	case cost < 4*BaselineCost:
		return 2
	default:
		return 1
	}
}

// recommend returns exactly one recommendation even when several
// conditions hold.
func recommend(latencyMS int64, cost, temperature float64) string {
	switch {
	case temperature > 0:
		return RecommendTemperature
	case cost > 2*BaselineCost:
		return RecommendCost
	case latencyMS > 2000:
		return RecommendLatency
	default:
		return RecommendOptimal
	}
}

// Variance returns the percentage drift of the replayed EBITDA from the
// original. It is zero when either side is absent or the original
// EBITDA is zero, so a replay can never divide by zero.
func Variance(original, replayed *kpi.KPIs) float64 {
	if original == nil || replayed == nil || original.EBITDA == 0 {
		return 0
	}
	return math.Abs(replayed.EBITDA-original.EBITDA) / math.Abs(original.EBITDA) * 100
}
