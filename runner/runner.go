// Package runner executes one probe as an isolated child process with a
// bounded wall-clock lifetime and classifies the outcome. Every failure
// mode is a status on the returned result, never an error that could
// abort the overall run.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"codeberg.org/iklabib/vmsense/extract"
	"codeberg.org/iklabib/vmsense/model"
	"codeberg.org/iklabib/vmsense/registry"
	"codeberg.org/iklabib/vmsense/rlimit"
)

// buildTimeout bounds the one-shot compile step for source probes. The
// original C probe compiles in well under a second; 30s covers slow
// hosts without letting a wedged toolchain stall discovery.
const buildTimeout = 30 * time.Second

// stderrKeep is how much probe stderr is retained on the result for
// diagnosis.
const stderrKeep = 2048

// Options controls one probe execution.
type Options struct {
	Iterations int
	Timeout    time.Duration
	Rlimits    []rlimit.Rlimit
}

// hostEnv is the real discovery environment: PATH lookups and build
// commands against the host.
type hostEnv struct{}

func (hostEnv) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

func (hostEnv) RunBuild(ctx context.Context, dir string, argv []string) error {
	buildCtx, cancel := context.WithTimeout(ctx, buildTimeout)
	defer cancel()

	cmd := exec.CommandContext(buildCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", argv[0], err, truncate(output, 512))
	}
	return nil
}

// Discover evaluates the descriptor's strategies in order and returns
// the first resolvable invocation. The error aggregates every
// strategy's failure for the Unavailable report entry.
func Discover(ctx context.Context, descriptor registry.Descriptor) (*registry.Invocation, error) {
	var failures []error
	for _, strategy := range descriptor.Strategies {
		invocation, err := strategy.Resolve(ctx, hostEnv{})
		if err == nil {
			return invocation, nil
		}
		failures = append(failures, err)
	}
	return nil, fmt.Errorf("probe %s unavailable: %w", descriptor.ID, errors.Join(failures...))
}

// Run discovers and executes one probe, returning its terminal result.
// The child runs in its own process group; on timeout the whole group
// receives SIGKILL so the probe's own children cannot outlive it.
func Run(ctx context.Context, descriptor registry.Descriptor, opts Options) model.ProbeResult {
	result := model.ProbeResult{
		ProbeID:    descriptor.ID,
		PmiVariant: string(descriptor.PmiVariant),
	}

	invocation, err := Discover(ctx, descriptor)
	if err != nil {
		result.Status = model.StatusUnavailable
		result.Error = err.Error()
		return result
	}
	result.ExecutionMethod = invocation.Method

	args := invocation.Args
	if descriptor.IterationsArg {
		args = append(append([]string{}, args...), strconv.Itoa(opts.Iterations))
	}

	runCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, invocation.Path, args...)
	cmd.Dir = invocation.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Own process group, so that cancellation reaches the probe and
	// everything it spawned (multiprocess probes fork workers).
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	// A probe holding stdout open through a surviving child must not
	// stall the join; give Wait a hard bound past cancellation.
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	if err := cmd.Start(); err != nil {
		result.Status = model.StatusUnavailable
		result.Error = fmt.Sprintf("spawn failed: %v", err)
		return result
	}

	if len(opts.Rlimits) > 0 {
		if err := rlimit.ApplyAll(cmd.Process.Pid, opts.Rlimits); err != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			_ = cmd.Wait()
			result.Status = model.StatusUnavailable
			result.Error = fmt.Sprintf("applying rlimits: %v", err)
			return result
		}
	}

	waitErr := cmd.Wait()
	result.ExecutionTimeSeconds = time.Since(start).Seconds()
	result.Stderr = truncate(stderr.Bytes(), stderrKeep)
	result.Metric = metrics(cmd)

	if runCtx.Err() != nil {
		// Deadline or parent cancellation; either way the probe was
		// terminated before reaching its own exit.
		result.Status = model.StatusTimeout
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			result.Error = fmt.Sprintf("time limit exceeded (%s)", opts.Timeout)
		} else {
			result.Error = "canceled"
		}
		return result
	}

	if waitErr != nil {
		result.Status = model.StatusNonZeroExit
		result.Error = fmt.Sprintf("exit code %d", result.Metric.ExitCode)
		return result
	}

	payload, err := extract.Extract(stdout.Bytes())
	if err != nil {
		result.Status = model.StatusParseError
		result.Error = err.Error()
		return result
	}

	result.Status = model.StatusSuccess
	result.Measurements = payload.Measurements
	result.SystemInfo = payload.SystemInfo
	indicators := payload.VMIndicators
	result.VMIndicators = &indicators
	result.MissingKeys = extract.MissingKeys(payload)
	return result
}

// metrics extracts child resource usage from the finished command.
func metrics(cmd *exec.Cmd) model.Metrics {
	state := cmd.ProcessState
	if state == nil {
		return model.Metrics{ExitCode: -1}
	}
	m := model.Metrics{ExitCode: state.ExitCode()}
	if usage, ok := state.SysUsage().(*syscall.Rusage); ok {
		m.UserTime = time.Duration(usage.Utime.Nano()) // ns
		m.SysTime = time.Duration(usage.Stime.Nano())  // ns
		m.MaxRSS = usage.Maxrss                        // kb
	}
	return m
}

func truncate(data []byte, max int) string {
	if len(data) <= max {
		return string(data)
	}
	return string(data[:max]) + "...(truncated)"
}
