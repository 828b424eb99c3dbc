// Package consensus aggregates per-probe verdicts into one voted
// judgment with a cross-probe measurement consistency analysis.
package consensus

import (
	"codeberg.org/iklabib/vmsense/model"
	"codeberg.org/iklabib/vmsense/stats"
)

// consistencyThreshold is the relative-variation bound under which
// independent probes are considered to agree on a measurement.
const consistencyThreshold = 0.2

// Analyze recomputes the consensus from scratch over the given results.
// Only Success results carrying the full measurement key set vote;
// everything else stays listed as attempted but contributes nothing.
func Analyze(results []model.ProbeResult) model.ConsensusReport {
	report := model.ConsensusReport{
		DetectionByProbe:       map[string]bool{},
		MeasurementConsistency: map[string]model.MeasurementConsistency{},
	}

	var participants []model.ProbeResult
	for _, result := range results {
		report.ProbesAttempted = append(report.ProbesAttempted, result.ProbeID)
		if !result.Participates() {
			continue
		}
		participants = append(participants, result)
		report.ProbesSucceeded = append(report.ProbesSucceeded, result.ProbeID)
		if result.VMIndicators != nil {
			report.DetectionByProbe[result.ProbeID] = result.VMIndicators.LikelyVM
		}
	}

	if len(participants) == 0 {
		return report
	}

	votes := 0
	for _, vote := range report.DetectionByProbe {
		if vote {
			votes++
		}
	}
	report.VMDetectionRate = float64(votes) / float64(len(participants))
	// Strict majority; an even split reads as physical.
	report.LikelyVM = report.VMDetectionRate > 0.5
	report.ConsistentVMDetection = votes == 0 || votes == len(participants)

	for _, key := range model.KeyMeasurements {
		byProbe := map[string]float64{}
		var values []float64
		for _, result := range participants {
			if value, ok := result.Measurements[key]; ok {
				byProbe[result.ProbeID] = value
				values = append(values, value)
			}
		}
		if len(values) < 2 {
			continue
		}
		cv := stats.CoefficientOfVariation(values)
		report.MeasurementConsistency[key] = model.MeasurementConsistency{
			ValuesByProbe:          byProbe,
			Mean:                   stats.Mean(values),
			CoefficientOfVariation: cv,
			Consistent:             cv < consistencyThreshold,
		}
	}

	return report
}
