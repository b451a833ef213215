//go:build linux

package batch

import "golang.org/x/sys/unix"

// pinToCPU restricts the calling OS thread to cpu.
func pinToCPU(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	return unix.SchedSetaffinity(0, &set)
}
