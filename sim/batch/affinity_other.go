//go:build !linux

package batch

func pinToCPU(int) error { return nil }
