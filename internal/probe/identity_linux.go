//go:build linux

package probe

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

var (
	bootIDOnce   sync.Once
	bootIDValue  string
	bootIDErr    error
)

// cachedBootID reads /proc/sys/kernel/random/boot_id once per process
// lifetime; it cannot change while the probe is running.
func cachedBootID() (string, error) {
	bootIDOnce.Do(func() {
		data, err := os.ReadFile("/proc/sys/kernel/random/boot_id")
		if err != nil {
			bootIDErr = err
			return
		}
		bootIDValue = strings.TrimSpace(string(data))
	})
	return bootIDValue, bootIDErr
}

// readStartTicks reads field 22 (starttime, clock ticks since boot) of
// /proc/[pid]/stat. The command field (field 2) is parenthesized and may
// itself contain spaces or parentheses, so we split on the last ')' rather
// than naive whitespace splitting.
func readStartTicks(pid int32) (uint64, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, err
	}
	line := string(data)
	closeParen := strings.LastIndexByte(line, ')')
	if closeParen < 0 || closeParen+2 >= len(line) {
		return 0, fmt.Errorf("probe: malformed /proc/%d/stat", pid)
	}
	fields := strings.Fields(line[closeParen+2:])
	// After the comm field, field 3 (state) is fields[0]; starttime is the
	// 22nd field overall, i.e. fields[22-3] = fields[19].
	const startTimeIdx = 19
	if len(fields) <= startTimeIdx {
		return 0, fmt.Errorf("probe: /proc/%d/stat has too few fields", pid)
	}
	ticks, err := strconv.ParseUint(fields[startTimeIdx], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("probe: parsing starttime for pid %d: %w", pid, err)
	}
	return ticks, nil
}
