// Package orchestrate drives one full run: discover and execute every
// registered probe under a bounded worker pool, aggregate the verdicts,
// build the report, and hand it to the sinks.
package orchestrate

import (
	"context"
	"runtime"
	"sync"
	"time"

	"codeberg.org/iklabib/vmsense/configs"
	"codeberg.org/iklabib/vmsense/consensus"
	"codeberg.org/iklabib/vmsense/model"
	"codeberg.org/iklabib/vmsense/registry"
	"codeberg.org/iklabib/vmsense/report"
	"codeberg.org/iklabib/vmsense/runner"
	"codeberg.org/iklabib/vmsense/sysinfo"
)

// Version is stamped into every report's metadata.
const Version = "1.0.0"

// Run executes the full orchestration over the given descriptor table
// and delivers the finished report to every sink. Probe failures and
// sink failures are absorbed into the report and the log; the returned
// error is reserved for conditions that prevent producing a report at
// all, which currently do not exist.
func Run(ctx context.Context, cfg configs.Config, table []registry.Descriptor,
	sinks []report.Sink, logger *Logger) (model.Report, error) {

	logger.Infof("starting run: %d probes, %d iterations, parallelism %d",
		len(table), cfg.Iterations, cfg.Parallelism)

	opts := runner.Options{
		Iterations: cfg.Iterations,
		Timeout:    time.Duration(cfg.TimeoutSeconds) * time.Second,
		Rlimits:    cfg.Rlimits,
	}

	workers := cfg.Parallelism
	if workers < 1 {
		workers = 1
	}
	if workers > len(table) {
		workers = len(table)
	}

	type indexed struct {
		index  int
		result model.ProbeResult
	}

	jobs := make(chan int)
	done := make(chan indexed)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				descriptor := table[i]
				logger.Infof("probe %s: starting", descriptor.ID)
				done <- indexed{index: i, result: runner.Run(ctx, descriptor, opts)}
			}
		}()
	}
	go func() {
		for i := range table {
			jobs <- i
		}
		close(jobs)
		wg.Wait()
		close(done)
	}()

	// The control goroutine is the only writer of the results slice; the
	// consensus join is simply this channel draining.
	results := make([]model.ProbeResult, len(table))
	for item := range done {
		result := item.result
		switch result.Status {
		case model.StatusSuccess:
			logger.Infof("probe %s: %s in %.2fs via %s",
				result.ProbeID, result.Status, result.ExecutionTimeSeconds, result.ExecutionMethod)
			if len(result.MissingKeys) > 0 {
				logger.Warnf("probe %s: %d measurement keys missing, excluded from consensus",
					result.ProbeID, len(result.MissingKeys))
			}
		case model.StatusUnavailable:
			logger.Warnf("probe %s: %s", result.ProbeID, result.Error)
		default:
			logger.Errorf("probe %s: %s: %s", result.ProbeID, result.Status, result.Error)
		}
		results[item.index] = result
	}

	verdict := consensus.Analyze(results)
	logger.Infof("consensus: %d/%d probes voted, detection rate %.2f, likely_vm %v",
		len(verdict.ProbesSucceeded), len(table), verdict.VMDetectionRate, verdict.LikelyVM)

	meta := model.Metadata{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		RunnerVersion: Version,
		Platform:      runtime.GOOS + "/" + runtime.GOARCH,
		Iterations:    cfg.Iterations,
		Parallelism:   cfg.Parallelism,
	}

	built := report.Build(meta, sysinfo.Collect(), logger.Entries(), verdict, results)

	for _, sink := range sinks {
		if err := sink.Emit(built); err != nil {
			logger.Errorf("sink %s: %v", sink.Name(), err)
		}
	}

	return built, nil
}

// SucceededCount reports how many results reached Success, the basis of
// the process exit code.
func SucceededCount(results []model.ProbeResult) int {
	n := 0
	for _, result := range results {
		if result.Status == model.StatusSuccess {
			n++
		}
	}
	return n
}
