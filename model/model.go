package model

import (
	"encoding/json"
	"time"
)

// Status classifies the terminal state of one probe execution. All of
// them are probe-local: a probe failing never aborts the run.
type Status string

const (
	StatusSuccess     Status = "success"
	StatusUnavailable Status = "unavailable"
	StatusTimeout     Status = "timeout"
	StatusNonZeroExit Status = "non_zero_exit"
	StatusParseError  Status = "parse_error"
)

// MeasurementKeys is the fixed key set every probe generation emits.
// A Success result missing any of these is excluded from consensus.
var MeasurementKeys = []string{
	"TIMING_BASIC_MEAN", "TIMING_BASIC_VARIANCE", "TIMING_BASIC_CV",
	"TIMING_BASIC_SKEWNESS", "TIMING_BASIC_KURTOSIS",
	"TIMING_CONSECUTIVE_MEAN", "TIMING_CONSECUTIVE_VARIANCE", "TIMING_CONSECUTIVE_CV",
	"TIMING_CONSECUTIVE_SKEWNESS", "TIMING_CONSECUTIVE_KURTOSIS",
	"SCHEDULING_THREAD_MEAN", "SCHEDULING_THREAD_VARIANCE", "SCHEDULING_THREAD_CV",
	"SCHEDULING_THREAD_SKEWNESS", "SCHEDULING_THREAD_KURTOSIS",
	"PHYSICAL_MACHINE_INDEX",
	"SCHEDULING_MULTIPROC_MEAN", "SCHEDULING_MULTIPROC_VARIANCE", "SCHEDULING_MULTIPROC_CV",
	"SCHEDULING_MULTIPROC_SKEWNESS", "SCHEDULING_MULTIPROC_KURTOSIS",
	"MULTIPROC_PHYSICAL_MACHINE_INDEX",
	"CACHE_ACCESS_RATIO", "CACHE_MISS_RATIO",
	"MEMORY_ADDRESS_ENTROPY",
	"OVERALL_TIMING_CV", "OVERALL_SCHEDULING_CV",
}

// KeyMeasurements are the measurements compared across probes for the
// consistency analysis.
var KeyMeasurements = []string{
	"TIMING_BASIC_CV",
	"SCHEDULING_THREAD_CV",
	"PHYSICAL_MACHINE_INDEX",
	"CACHE_ACCESS_RATIO",
	"MEMORY_ADDRESS_ENTROPY",
}

// StatSummary holds the descriptors the statistics kernel computes over
// one sample sequence. Skewness and kurtosis are zero below their
// minimum sample sizes (3 and 4); that is a documented policy, not an
// error.
type StatSummary struct {
	Mean                   float64 `json:"mean"`
	Variance               float64 `json:"variance"`
	CoefficientOfVariation float64 `json:"coefficient_of_variation"`
	Skewness               float64 `json:"skewness"`
	Kurtosis               float64 `json:"kurtosis"`
}

// VMIndicators is the verdict block a probe emits: the boolean vote, a
// likelihood score in [0,1], and any number of named indicator flags.
type VMIndicators struct {
	LikelyVM        bool
	LikelihoodScore float64
	Flags           map[string]bool
}

func (v *VMIndicators) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v.Flags = map[string]bool{}
	for key, value := range raw {
		switch key {
		case "likely_vm":
			if err := json.Unmarshal(value, &v.LikelyVM); err != nil {
				return err
			}
		case "vm_likelihood_score":
			if err := json.Unmarshal(value, &v.LikelihoodScore); err != nil {
				return err
			}
		default:
			// Extra indicator flags are booleans; anything else in the
			// block is probe-generation noise and is skipped.
			var flag bool
			if err := json.Unmarshal(value, &flag); err == nil {
				v.Flags[key] = flag
			}
		}
	}
	return nil
}

func (v VMIndicators) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(v.Flags)+2)
	for key, flag := range v.Flags {
		out[key] = flag
	}
	out["likely_vm"] = v.LikelyVM
	out["vm_likelihood_score"] = v.LikelihoodScore
	return json.Marshal(out)
}

// ProbePayload is the single JSON object a probe must emit on stdout.
type ProbePayload struct {
	SystemInfo   map[string]any     `json:"system_info"`
	Measurements map[string]float64 `json:"measurements"`
	VMIndicators VMIndicators       `json:"vm_indicators"`
}

// Metrics captures child-process resource usage.
type Metrics struct {
	ExitCode int           `json:"exit_code"`
	UserTime time.Duration `json:"user_time"` // ns
	SysTime  time.Duration `json:"sys_time"`  // ns
	MaxRSS   int64         `json:"max_rss"`   // kb
}

// ProbeResult is the immutable outcome of one probe execution.
// Constructed once by the runner and never mutated afterwards.
type ProbeResult struct {
	ProbeID              string             `json:"probe_id"`
	Status               Status             `json:"status"`
	PmiVariant           string             `json:"pmi_variant"`
	ExecutionMethod      string             `json:"execution_method,omitempty"`
	Measurements         map[string]float64 `json:"measurements,omitempty"`
	SystemInfo           map[string]any     `json:"system_info,omitempty"`
	VMIndicators         *VMIndicators      `json:"vm_indicators,omitempty"`
	MissingKeys          []string           `json:"missing_keys,omitempty"`
	ExecutionTimeSeconds float64            `json:"execution_time_seconds"`
	Metric               Metrics            `json:"metric"`
	Error                string             `json:"error,omitempty"`
	Stderr               string             `json:"stderr,omitempty"`
}

// Participates reports whether this result enters consensus: it must be
// a Success and must have parsed with the full fixed measurement key
// set. Partial results stay visible in the report but never vote.
func (r ProbeResult) Participates() bool {
	return r.Status == StatusSuccess && len(r.MissingKeys) == 0
}

// MeasurementConsistency describes cross-probe agreement on one
// measurement.
type MeasurementConsistency struct {
	ValuesByProbe          map[string]float64 `json:"values_by_probe"`
	Mean                   float64            `json:"mean"`
	CoefficientOfVariation float64            `json:"coefficient_of_variation"`
	Consistent             bool               `json:"consistent"`
}

// ConsensusReport is the aggregate voted judgment across participating
// probes. Recomputed from scratch each run, never mutated in place.
type ConsensusReport struct {
	ProbesAttempted        []string                          `json:"probes_attempted"`
	ProbesSucceeded        []string                          `json:"probes_succeeded"`
	DetectionByProbe       map[string]bool                   `json:"vm_detection_by_probe"`
	MeasurementConsistency map[string]MeasurementConsistency `json:"measurement_consistency"`
	VMDetectionRate        float64                           `json:"vm_detection_rate"`
	LikelyVM               bool                              `json:"likely_vm"`
	ConsistentVMDetection  bool                              `json:"consistent_vm_detection"`
}

// LogEntry is one line of the orchestrator's execution log, retained in
// the report for diagnosis.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// Metadata identifies one orchestrator run.
type Metadata struct {
	Timestamp     string `json:"timestamp"`
	RunnerVersion string `json:"runner_version"`
	Platform      string `json:"platform"`
	Iterations    int    `json:"iterations"`
	Parallelism   int    `json:"parallelism"`
}

// Summary holds the derived headline fields of a run.
type Summary struct {
	ProbesAttempted        int     `json:"probes_attempted"`
	ProbesSucceeded        int     `json:"probes_succeeded"`
	ConsensusVMDetection   bool    `json:"consensus_vm_detection"`
	DetectionConfidence    float64 `json:"detection_confidence"`
	MeasurementsConsistent bool    `json:"measurements_consistent"`
	FastestProbe           string  `json:"fastest_probe,omitempty"`
	PortableBinariesUsed   int     `json:"portable_binaries_used"`
	SourceFallbacksUsed    int     `json:"source_fallbacks_used"`
}

// Report is the complete serializable output of one run.
type Report struct {
	Metadata     Metadata        `json:"metadata"`
	SystemInfo   map[string]any  `json:"system_identification"`
	ExecutionLog []LogEntry      `json:"execution_log"`
	Summary      Summary         `json:"summary"`
	Consensus    ConsensusReport `json:"cross_probe_analysis"`
	Results      []ProbeResult   `json:"probe_results"`
}
