//go:build !linux

package probe

// fdWriteMode depends on /proc/<pid>/fdinfo, which only Linux exposes.
func fdWriteMode(pid int32, fd uint32) bool {
	return false
}
