//go:build linux

package probe

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// accModeMask isolates O_RDONLY/O_WRONLY/O_RDWR from a raw fdinfo flags
// field (O_ACCMODE, 0x3 on Linux).
const accModeMask = 0x3

// fdWriteMode reports whether fd is open for writing, read from the
// "flags:" line of /proc/<pid>/fdinfo/<fd>. gopsutil's OpenFilesWithContext
// surfaces the path for this same fd but not its access mode, which is why
// this reads fdinfo directly rather than extending that call.
func fdWriteMode(pid int32, fd uint32) bool {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/fdinfo/%d", pid, fd))
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		rest, ok := strings.CutPrefix(line, "flags:")
		if !ok {
			continue
		}
		flags, err := strconv.ParseInt(strings.TrimSpace(rest), 8, 64)
		if err != nil {
			return false
		}
		mode := flags & accModeMask
		return mode == os.O_WRONLY || mode == os.O_RDWR
	}
	return false
}
