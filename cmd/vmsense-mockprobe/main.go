// vmsense-mockprobe emits a deterministic probe payload in the standard
// output shape, with the usual banner and progress noise around it. It
// exists for exercising the orchestrator end to end without real
// probes: drop it into a search dir as vmtest_python (or any portable
// binary name) and every run produces the same verdict.
package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"strconv"

	"github.com/alecthomas/kong"

	"codeberg.org/iklabib/vmsense/model"
	"codeberg.org/iklabib/vmsense/stats"
	"codeberg.org/iklabib/vmsense/util"
)

var cli struct {
	Iterations []string `arg:"" optional:"" help:"Iteration count, accepted positionally like the real probes."`
	Seed       int64    `help:"PRNG seed; same seed, same payload." default:"1"`
	LikelyVM   bool     `help:"Vote VM instead of physical." name:"likely-vm"`
	Partial    bool     `help:"Drop one measurement key to exercise partial-payload handling."`
}

func main() {
	kong.Parse(&cli,
		kong.Name("vmsense-mockprobe"),
		kong.Description("Deterministic probe payload emitter for orchestrator testing."),
	)
	util.Bail(run())
}

func run() error {
	iterations := 1000
	if len(cli.Iterations) > 0 {
		if n, err := strconv.Atoi(cli.Iterations[0]); err == nil && n > 0 {
			iterations = n
		}
	}

	measurements := measure(iterations, rand.New(rand.NewSource(cli.Seed)))
	if cli.Partial {
		delete(measurements, "MEMORY_ADDRESS_ENTROPY")
	}

	score := 0.1
	if cli.LikelyVM {
		score = 0.9
	}
	payload := model.ProbePayload{
		SystemInfo: map[string]any{
			"platform":   "mock",
			"iterations": iterations,
		},
		Measurements: measurements,
		VMIndicators: model.VMIndicators{
			LikelyVM:        cli.LikelyVM,
			LikelihoodScore: score,
			Flags:           map[string]bool{"mock_probe": true},
		},
	}

	fmt.Println("=== vmsense mock probe ===")
	fmt.Printf("running %d iterations\n", iterations)
	fmt.Println("progress: 100%")

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(payload); err != nil {
		return err
	}

	fmt.Println("mock probe complete")
	return nil
}

// measure synthesizes the full measurement map the way a real probe
// generation does: draw latency-like samples, reduce them through the
// statistics kernel.
func measure(iterations int, rng *rand.Rand) map[string]float64 {
	timing := samples(iterations, 100, 5, rng)
	consecutive := samples(iterations, 40, 2, rng)
	thread := samples(iterations, 250, 30, rng)
	multiproc := samples(iterations, 400, 60, rng)
	addresses := samples(iterations, 1<<20, 1<<16, rng)

	m := map[string]float64{}
	fill := func(prefix string, s model.StatSummary) {
		m[prefix+"_MEAN"] = s.Mean
		m[prefix+"_VARIANCE"] = s.Variance
		m[prefix+"_CV"] = s.CoefficientOfVariation
		m[prefix+"_SKEWNESS"] = s.Skewness
		m[prefix+"_KURTOSIS"] = s.Kurtosis
	}

	timingSummary := stats.Summarize(timing)
	consecutiveSummary := stats.Summarize(consecutive)
	threadSummary := stats.Summarize(thread)
	multiprocSummary := stats.Summarize(multiproc)

	fill("TIMING_BASIC", timingSummary)
	fill("TIMING_CONSECUTIVE", consecutiveSummary)
	fill("SCHEDULING_THREAD", threadSummary)
	fill("SCHEDULING_MULTIPROC", multiprocSummary)

	m["PHYSICAL_MACHINE_INDEX"] = stats.PhysicalMachineIndex(
		threadSummary.Kurtosis, threadSummary.Skewness, threadSummary.Variance, stats.PmiRaw)
	m["MULTIPROC_PHYSICAL_MACHINE_INDEX"] = stats.PhysicalMachineIndex(
		multiprocSummary.Kurtosis, multiprocSummary.Skewness, multiprocSummary.Variance, stats.PmiRaw)

	m["CACHE_ACCESS_RATIO"] = 1.0 + rng.Float64()*0.2
	m["CACHE_MISS_RATIO"] = 2.0 + rng.Float64()*0.5
	m["MEMORY_ADDRESS_ENTROPY"] = stats.ShannonEntropy(addresses, stats.EntropyBins)

	m["OVERALL_TIMING_CV"] = stats.CoefficientOfVariation(
		[]float64{timingSummary.CoefficientOfVariation, consecutiveSummary.CoefficientOfVariation})
	m["OVERALL_SCHEDULING_CV"] = stats.CoefficientOfVariation(
		[]float64{threadSummary.CoefficientOfVariation, multiprocSummary.CoefficientOfVariation})

	return m
}

// samples draws n values around mean with the given spread.
func samples(n int, mean, spread float64, rng *rand.Rand) []float64 {
	if n < 4 {
		n = 4
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = mean + rng.NormFloat64()*spread
	}
	return out
}
