//go:build !linux

package probe

import "errors"

// cachedBootID and readStartTicks depend on /proc, which only Linux
// exposes. Non-Linux builds report CapabilityMissing via these stubs
// rather than guessing at an equivalent (spec.md §4.A).
var errNoProc = errors.New("probe: /proc-based identity tracking is unavailable on this platform")

func cachedBootID() (string, error) {
	return "", errNoProc
}

func readStartTicks(pid int32) (uint64, error) {
	return 0, errNoProc
}
