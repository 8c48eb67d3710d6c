//go:build linux

// ABOUTME: Linux process metadata from procfs: working directory and start time.
// ABOUTME: Lookup failures degrade to empty values, never errors.

package discovery

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type platformMetadata struct{}

// WorkingDir reads the /proc/{pid}/cwd symlink.
func (platformMetadata) WorkingDir(pid int) string {
	link, err := os.Readlink(fmt.Sprintf("/proc/%d/cwd", pid))
	if err != nil {
		return ""
	}
	return link
}

// WorkingDir resolves via procfs; StartTime combines the boot time from
// /proc/stat with the process start tick from /proc/{pid}/stat.
func (platformMetadata) StartTime(pid int) time.Time {
	boot := bootTime()
	if boot.IsZero() {
		return time.Time{}
	}

	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return time.Time{}
	}
	// comm (field 2) may contain spaces; everything after the closing paren
	// is space-delimited. starttime is field 22 overall, so index 19 after
	// the paren.
	idx := strings.LastIndexByte(string(data), ')')
	if idx < 0 {
		return time.Time{}
	}
	fields := strings.Fields(string(data)[idx+1:])
	if len(fields) < 20 {
		return time.Time{}
	}
	ticks, err := strconv.ParseInt(fields[19], 10, 64)
	if err != nil {
		return time.Time{}
	}
	// USER_HZ is 100 on every mainstream linux build.
	return boot.Add(time.Duration(ticks) * time.Second / 100)
}

// bootTime parses the btime line from /proc/stat.
func bootTime() time.Time {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return time.Time{}
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "btime ") {
			continue
		}
		secs, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "btime ")), 10, 64)
		if err != nil {
			return time.Time{}
		}
		return time.Unix(secs, 0)
	}
	return time.Time{}
}
