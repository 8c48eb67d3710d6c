//go:build darwin

// ABOUTME: Darwin process metadata. Without cgo there is no portable cwd or
// ABOUTME: start-time lookup, so both degrade to empty values.

package discovery

import "time"

type platformMetadata struct{}

func (platformMetadata) WorkingDir(pid int) string { return "" }

func (platformMetadata) StartTime(pid int) time.Time { return time.Time{} }
