//go:build !darwin

package concurrency

func performanceCoreCount() int { return 0 }
