//go:build !linux

package probe

import "os"

// timestamps falls back to modified time for every field on platforms
// without a syscall-level stat struct wired up here (spec.md §4.B: "if
// the platform omits one of the three timestamps, the missing field is
// populated from modified").
func timestamps(info os.FileInfo) (created, modified, accessed float64) {
	modified = float64(info.ModTime().Unix()) + float64(info.ModTime().Nanosecond())/1e9
	return modified, modified, modified
}
