// Package report assembles the final run report and delivers it to
// sinks (a directory of artifacts, an optional webhook).
package report

import (
	"strings"

	"codeberg.org/iklabib/vmsense/model"
)

// Build assembles the complete report from the run's parts. The report
// is a plain value; sinks serialize it, nothing mutates it afterwards.
func Build(meta model.Metadata, systemInfo map[string]any, log []model.LogEntry,
	consensus model.ConsensusReport, results []model.ProbeResult) model.Report {

	summary := model.Summary{
		ProbesAttempted:        len(results),
		ProbesSucceeded:        len(consensus.ProbesSucceeded),
		ConsensusVMDetection:   consensus.LikelyVM,
		DetectionConfidence:    confidence(consensus),
		MeasurementsConsistent: allConsistent(consensus),
	}

	fastest := ""
	fastestTime := 0.0
	for _, result := range results {
		switch {
		case strings.HasPrefix(result.ExecutionMethod, "portable: "):
			summary.PortableBinariesUsed++
		case strings.HasPrefix(result.ExecutionMethod, "source: "):
			summary.SourceFallbacksUsed++
		}
		if result.Status != model.StatusSuccess {
			continue
		}
		if fastest == "" || result.ExecutionTimeSeconds < fastestTime {
			fastest = result.ProbeID
			fastestTime = result.ExecutionTimeSeconds
		}
	}
	summary.FastestProbe = fastest

	return model.Report{
		Metadata:     meta,
		SystemInfo:   systemInfo,
		ExecutionLog: log,
		Summary:      summary,
		Consensus:    consensus,
		Results:      results,
	}
}

// confidence is how far the vote sits from the decision boundary,
// rescaled to [0,1]. No participants means no confidence at all.
func confidence(consensus model.ConsensusReport) float64 {
	if len(consensus.ProbesSucceeded) == 0 {
		return 0
	}
	if consensus.LikelyVM {
		return consensus.VMDetectionRate
	}
	return 1 - consensus.VMDetectionRate
}

// allConsistent reports whether every compared measurement agreed
// across probes. An empty analysis (fewer than two participants) does
// not count as agreement.
func allConsistent(consensus model.ConsensusReport) bool {
	if len(consensus.MeasurementConsistency) == 0 {
		return false
	}
	for _, entry := range consensus.MeasurementConsistency {
		if !entry.Consistent {
			return false
		}
	}
	return true
}
