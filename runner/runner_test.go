package runner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"codeberg.org/iklabib/vmsense/model"
	"codeberg.org/iklabib/vmsense/registry"
	"codeberg.org/iklabib/vmsense/stats"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	script := "#!/bin/sh\n" + body
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("writing script: %v", err)
	}
	return path
}

// writePayload materializes a complete probe payload as a JSON file the
// fake probe scripts can cat.
func writePayload(t *testing.T, dir string, drop ...string) string {
	t.Helper()
	measurements := make(map[string]float64, len(model.MeasurementKeys))
	for i, key := range model.MeasurementKeys {
		measurements[key] = float64(i) * 0.25
	}
	for _, key := range drop {
		delete(measurements, key)
	}
	payload := model.ProbePayload{
		SystemInfo:   map[string]any{"platform": "Linux"},
		Measurements: measurements,
		VMIndicators: model.VMIndicators{LikelyVM: true, LikelihoodScore: 0.8},
	}
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	path := filepath.Join(dir, "payload.json")
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		t.Fatalf("writing payload: %v", err)
	}
	return path
}

func scriptDescriptor(path string, iterationsArg bool) registry.Descriptor {
	return registry.Descriptor{
		ID:            "fake",
		PmiVariant:    stats.PmiRaw,
		IterationsArg: iterationsArg,
		Strategies:    []registry.Strategy{registry.PortableBinary{Paths: []string{path}}},
	}
}

func TestRunSuccess(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	payload := writePayload(t, dir)
	script := writeScript(t, dir, "probe.sh",
		"echo '=== fake probe ==='\ncat "+payload+"\necho 'done'\n")

	result := Run(context.Background(), scriptDescriptor(script, false), Options{
		Iterations: 100,
		Timeout:    30 * time.Second,
	})

	if result.Status != model.StatusSuccess {
		t.Fatalf("status = %s (%s), want success", result.Status, result.Error)
	}
	if !result.Participates() {
		t.Errorf("missing keys on a full payload: %v", result.MissingKeys)
	}
	if result.VMIndicators == nil || !result.VMIndicators.LikelyVM {
		t.Error("vm indicator vote lost")
	}
	if !strings.HasPrefix(result.ExecutionMethod, "portable: ") {
		t.Errorf("execution method = %q, want portable prefix", result.ExecutionMethod)
	}
	if result.Metric.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", result.Metric.ExitCode)
	}
	if result.ExecutionTimeSeconds <= 0 {
		t.Errorf("execution time = %v, want > 0", result.ExecutionTimeSeconds)
	}
}

func TestRunPassesIterationCount(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	payload := writePayload(t, dir)
	script := writeScript(t, dir, "probe.sh",
		"if [ \"$1\" != \"250\" ]; then echo \"bad arg: $1\" >&2; exit 1; fi\ncat "+payload+"\n")

	result := Run(context.Background(), scriptDescriptor(script, true), Options{
		Iterations: 250,
		Timeout:    30 * time.Second,
	})

	if result.Status != model.StatusSuccess {
		t.Fatalf("status = %s (%s, stderr %q), want success", result.Status, result.Error, result.Stderr)
	}
}

func TestRunTimeout(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	script := writeScript(t, dir, "probe.sh", "sleep 30\n")

	start := time.Now()
	result := Run(context.Background(), scriptDescriptor(script, false), Options{
		Iterations: 100,
		Timeout:    200 * time.Millisecond,
	})

	if result.Status != model.StatusTimeout {
		t.Fatalf("status = %s, want timeout", result.Status)
	}
	if !strings.Contains(result.Error, "time limit") {
		t.Errorf("error = %q, want time limit message", result.Error)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("timed-out probe held the runner for %v", elapsed)
	}
}

func TestRunTimeoutKillsDescendants(t *testing.T) {
	t.Parallel()

	// The probe forks a grandchild that inherits the process group. If
	// only the direct child were killed, the grandchild would keep the
	// marker from appearing promptly and hold stdout open past WaitDelay.
	dir := t.TempDir()
	marker := filepath.Join(dir, "marker")
	script := writeScript(t, dir, "probe.sh",
		"( sleep 30; touch "+marker+" ) &\nsleep 30\n")

	result := Run(context.Background(), scriptDescriptor(script, false), Options{
		Iterations: 100,
		Timeout:    200 * time.Millisecond,
	})

	if result.Status != model.StatusTimeout {
		t.Fatalf("status = %s, want timeout", result.Status)
	}
	// Grace period: the group SIGKILL is asynchronous.
	time.Sleep(300 * time.Millisecond)
	if _, err := os.Stat(marker); err == nil {
		t.Error("grandchild survived the process-group kill")
	}
}

func TestRunNonZeroExit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	script := writeScript(t, dir, "probe.sh", "echo 'probe blew up' >&2\nexit 3\n")

	result := Run(context.Background(), scriptDescriptor(script, false), Options{
		Iterations: 100,
		Timeout:    30 * time.Second,
	})

	if result.Status != model.StatusNonZeroExit {
		t.Fatalf("status = %s, want non_zero_exit", result.Status)
	}
	if result.Metric.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", result.Metric.ExitCode)
	}
	if !strings.Contains(result.Stderr, "probe blew up") {
		t.Errorf("stderr = %q, want captured message", result.Stderr)
	}
}

func TestRunParseError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	script := writeScript(t, dir, "probe.sh", "echo 'no json here, only logs'\n")

	result := Run(context.Background(), scriptDescriptor(script, false), Options{
		Iterations: 100,
		Timeout:    30 * time.Second,
	})

	if result.Status != model.StatusParseError {
		t.Fatalf("status = %s, want parse_error", result.Status)
	}
}

func TestRunUnavailable(t *testing.T) {
	t.Parallel()

	descriptor := scriptDescriptor(filepath.Join(t.TempDir(), "nope"), false)
	result := Run(context.Background(), descriptor, Options{
		Iterations: 100,
		Timeout:    30 * time.Second,
	})

	if result.Status != model.StatusUnavailable {
		t.Fatalf("status = %s, want unavailable", result.Status)
	}
	if result.Error == "" {
		t.Error("unavailable result carries no discovery error")
	}
}

func TestRunPartialKeysStaySuccess(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	payload := writePayload(t, dir, "CACHE_ACCESS_RATIO")
	script := writeScript(t, dir, "probe.sh", "cat "+payload+"\n")

	result := Run(context.Background(), scriptDescriptor(script, false), Options{
		Iterations: 100,
		Timeout:    30 * time.Second,
	})

	if result.Status != model.StatusSuccess {
		t.Fatalf("status = %s (%s), want success", result.Status, result.Error)
	}
	if len(result.MissingKeys) != 1 || result.MissingKeys[0] != "CACHE_ACCESS_RATIO" {
		t.Errorf("missing keys = %v, want [CACHE_ACCESS_RATIO]", result.MissingKeys)
	}
	if result.Participates() {
		t.Error("partial result must not participate in consensus")
	}
}

func TestDiscoverStrategyOrder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first := writeScript(t, dir, "first.sh", "exit 0\n")
	second := writeScript(t, dir, "second.sh", "exit 0\n")

	descriptor := registry.Descriptor{
		ID: "ordered",
		Strategies: []registry.Strategy{
			registry.PortableBinary{Paths: []string{filepath.Join(dir, "absent")}},
			registry.PortableBinary{Paths: []string{first}},
			registry.PortableBinary{Paths: []string{second}},
		},
	}

	invocation, err := Discover(context.Background(), descriptor)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if invocation.Path != first {
		t.Errorf("resolved %s, want first matching strategy %s", invocation.Path, first)
	}
}
