//go:build darwin

package concurrency

import "golang.org/x/sys/unix"

// performanceCoreCount reads the P-core count on Apple silicon. Intel Macs
// have no perflevel sysctls and report 0.
func performanceCoreCount() int {
	n, err := unix.SysctlUint32("hw.perflevel0.physicalcpu")
	if err != nil {
		return 0
	}
	return int(n)
}
