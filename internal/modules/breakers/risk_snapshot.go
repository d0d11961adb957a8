package breakers

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// minReturnSamples below which VaR/ES are reported as zero rather than noise
const minReturnSamples = 10

// RiskSnapshot holds the tail-risk measures for the global breaker layer.
// Values are positive fractions of equity (loss magnitudes).
type RiskSnapshot struct {
	VaR95 float64 `json:"var_95"`
	ES95  float64 `json:"es_95"`
}

// ComputeRiskSnapshot computes 95% historical VaR and expected shortfall from
// a series of per-period returns.
func ComputeRiskSnapshot(returns []float64) RiskSnapshot {
	if len(returns) < minReturnSamples {
		return RiskSnapshot{}
	}

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	// Historical VaR: the 5th percentile of the return distribution
	q := stat.Quantile(0.05, stat.Empirical, sorted, nil)
	varLoss := -q
	if varLoss < 0 {
		varLoss = 0
	}

	// Expected shortfall: mean loss conditional on exceeding VaR
	var tail []float64
	for _, ret := range sorted {
		if ret <= q {
			tail = append(tail, ret)
		}
	}
	esLoss := 0.0
	if len(tail) > 0 {
		esLoss = -stat.Mean(tail, nil)
		if esLoss < 0 {
			esLoss = 0
		}
	}

	return RiskSnapshot{VaR95: varLoss, ES95: esLoss}
}
