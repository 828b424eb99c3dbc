// Package rlimit applies named resource limits to probe child
// processes. Limits are imposed from the outside via prlimit on the
// child pid, so the orchestrator's own limits are never touched.
package rlimit

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const (
	RLIMIT_AS     = "RLIMIT_AS"
	RLIMIT_CPU    = "RLIMIT_CPU"
	RLIMIT_CORE   = "RLIMIT_CORE"
	RLIMIT_DATA   = "RLIMIT_DATA"
	RLIMIT_FSIZE  = "RLIMIT_FSIZE"
	RLIMIT_NOFILE = "RLIMIT_NOFILE"
	RLIMIT_STACK  = "RLIMIT_STACK"
)

type Rlimit struct {
	Resource string `config:"resource" yaml:"resource" json:"resource"`
	Soft     uint64 `config:"soft" yaml:"soft" json:"soft"`
	Hard     uint64 `config:"hard" yaml:"hard" json:"hard"`
}

func (rl Rlimit) resource() (int, error) {
	switch rl.Resource {
	case RLIMIT_AS:
		return unix.RLIMIT_AS, nil
	case RLIMIT_CPU:
		return unix.RLIMIT_CPU, nil
	case RLIMIT_CORE:
		return unix.RLIMIT_CORE, nil
	case RLIMIT_DATA:
		return unix.RLIMIT_DATA, nil
	case RLIMIT_FSIZE:
		return unix.RLIMIT_FSIZE, nil
	case RLIMIT_NOFILE:
		return unix.RLIMIT_NOFILE, nil
	case RLIMIT_STACK:
		return unix.RLIMIT_STACK, nil
	default:
		return -1, fmt.Errorf("unknown rlimit resource option '%s'", rl.Resource)
	}
}

// ApplyTo imposes the limit on the process with the given pid.
func (rl Rlimit) ApplyTo(pid int) error {
	resource, err := rl.resource()
	if err != nil {
		return err
	}
	limit := &unix.Rlimit{Cur: rl.Soft, Max: rl.Hard}
	return unix.Prlimit(pid, resource, limit, nil)
}

// ApplyAll imposes every limit on the process with the given pid,
// stopping at the first failure.
func ApplyAll(pid int, limits []Rlimit) error {
	for _, rl := range limits {
		if err := rl.ApplyTo(pid); err != nil {
			return fmt.Errorf("%s: %w", rl.Resource, err)
		}
	}
	return nil
}
