package orchestrate

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"codeberg.org/iklabib/vmsense/configs"
	"codeberg.org/iklabib/vmsense/model"
	"codeberg.org/iklabib/vmsense/registry"
	"codeberg.org/iklabib/vmsense/report"
	"codeberg.org/iklabib/vmsense/stats"
)

// fakeProbe writes a sh script that emits a full payload voting the
// given way, and returns its descriptor.
func fakeProbe(t *testing.T, dir, id string, likelyVM bool) registry.Descriptor {
	t.Helper()

	measurements := make(map[string]float64, len(model.MeasurementKeys))
	for i, key := range model.MeasurementKeys {
		measurements[key] = float64(i)
	}
	payload := model.ProbePayload{
		SystemInfo:   map[string]any{"platform": "Linux"},
		Measurements: measurements,
		VMIndicators: model.VMIndicators{LikelyVM: likelyVM, LikelihoodScore: 0.5},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	payloadPath := filepath.Join(dir, id+".json")
	if err := os.WriteFile(payloadPath, encoded, 0o644); err != nil {
		t.Fatalf("writing payload: %v", err)
	}
	scriptPath := filepath.Join(dir, id+".sh")
	script := "#!/bin/sh\necho 'probe " + id + " running'\ncat " + payloadPath + "\n"
	if err := os.WriteFile(scriptPath, []byte(script), 0o755); err != nil {
		t.Fatalf("writing script: %v", err)
	}

	return registry.Descriptor{
		ID:         id,
		PmiVariant: stats.PmiRaw,
		Strategies: []registry.Strategy{registry.PortableBinary{Paths: []string{scriptPath}}},
	}
}

func TestRunEndToEnd(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	table := []registry.Descriptor{
		fakeProbe(t, dir, "alpha", true),
		fakeProbe(t, dir, "beta", true),
		fakeProbe(t, dir, "gamma", false),
		{
			ID:         "absent",
			Strategies: []registry.Strategy{registry.PortableBinary{Paths: []string{filepath.Join(dir, "nope")}}},
		},
	}

	cfg := configs.Defaults()
	cfg.Iterations = 10
	cfg.TimeoutSeconds = 30
	cfg.Parallelism = 2

	outDir := filepath.Join(dir, "out")
	sinks := []report.Sink{report.DirSink{Dir: outDir}}

	built, err := Run(context.Background(), cfg, table, sinks, NewLogger(false))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := SucceededCount(built.Results); got != 3 {
		t.Errorf("SucceededCount = %d, want 3", got)
	}
	if len(built.Results) != 4 {
		t.Fatalf("results = %d, want one per descriptor", len(built.Results))
	}
	// Results keep descriptor order regardless of worker scheduling.
	for i, id := range []string{"alpha", "beta", "gamma", "absent"} {
		if built.Results[i].ProbeID != id {
			t.Errorf("results[%d] = %s, want %s", i, built.Results[i].ProbeID, id)
		}
	}
	if built.Results[3].Status != model.StatusUnavailable {
		t.Errorf("absent probe status = %s, want unavailable", built.Results[3].Status)
	}

	if !built.Consensus.LikelyVM {
		t.Error("2/3 VM votes should carry the consensus")
	}
	if built.Summary.ProbesAttempted != 4 || built.Summary.ProbesSucceeded != 3 {
		t.Errorf("summary counts = %d/%d, want 4 attempted, 3 succeeded",
			built.Summary.ProbesAttempted, built.Summary.ProbesSucceeded)
	}
	// Identical payloads across probes must read as consistent.
	if !built.Summary.MeasurementsConsistent {
		t.Error("identical measurements reported as inconsistent")
	}
	if len(built.ExecutionLog) == 0 {
		t.Error("execution log missing from the report")
	}
	if built.Metadata.RunnerVersion != Version {
		t.Errorf("RunnerVersion = %s, want %s", built.Metadata.RunnerVersion, Version)
	}

	if _, err := os.Stat(filepath.Join(outDir, "report.json")); err != nil {
		t.Errorf("dir sink produced no report.json: %v", err)
	}
}

func TestRunAllProbesUnavailable(t *testing.T) {
	t.Parallel()

	table := []registry.Descriptor{
		{ID: "ghost", Strategies: []registry.Strategy{
			registry.PortableBinary{Paths: []string{filepath.Join(t.TempDir(), "nothing")}},
		}},
	}

	cfg := configs.Defaults()
	cfg.TimeoutSeconds = 5

	built, err := Run(context.Background(), cfg, table, nil, NewLogger(false))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := SucceededCount(built.Results); got != 0 {
		t.Errorf("SucceededCount = %d, want 0", got)
	}
	if built.Consensus.LikelyVM {
		t.Error("LikelyVM = true with no evidence")
	}
	if built.Summary.DetectionConfidence != 0 {
		t.Errorf("DetectionConfidence = %v, want 0", built.Summary.DetectionConfidence)
	}
}
