package pcienpu

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// maxCPUs is the number of cores a unix.CPUSet can describe
const maxCPUs = 1024

// SetCPUAffinity pins the calling OS thread to the given CPU core numbers, eg:
// []int{4,5,6,7}.  Threads already started by the Go runtime keep their
// affinity, so callers should runtime.LockOSThread the goroutine that drives
// the accelerator first
func SetCPUAffinity(cores []int) error {

	if len(cores) == 0 {
		return errors.New("no CPU cores given")
	}

	var set unix.CPUSet

	for _, core := range cores {
		if core < 0 || core >= maxCPUs {
			return errors.Errorf("invalid CPU core %d", core)
		}
		set.Set(core)
	}

	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return errors.Wrap(err, "failed to set CPU affinity")
	}

	return nil
}

// GetCPUAffinity returns the CPU core numbers the calling OS thread is allowed
// to run on
func GetCPUAffinity() ([]int, error) {

	var set unix.CPUSet

	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, errors.Wrap(err, "failed to get CPU affinity")
	}

	cores := make([]int, 0, set.Count())

	for core := 0; core < maxCPUs; core++ {
		if set.IsSet(core) {
			cores = append(cores, core)
		}
	}

	return cores, nil
}
