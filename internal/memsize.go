package internal

import "golang.org/x/sys/unix"

// PhysicalMemory returns the total amount of physical memory in bytes,
// or 0 if it cannot be determined.
func PhysicalMemory() uint64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0
	}
	return uint64(info.Totalram) * uint64(info.Unit)
}
