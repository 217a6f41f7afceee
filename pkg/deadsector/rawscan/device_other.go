//go:build unix && !linux

package rawscan

// O_DIRECT is Linux-specific; elsewhere the flag is a no-op.
const directFlag = 0

func adviseSequential(int) {}

func ioctlSize(int) (uint64, bool) { return 0, false }
