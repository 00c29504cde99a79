// Package platform detects the host OS well enough to resolve the
// fixed per-OS paths the MCP Config Loader needs for import sources
// like claude-desktop (mcpconfig §4.1), grounded on the teacher's own
// platform detection helper.
package platform

import "runtime"

// OS is the detected operating system family.
type OS string

const (
	OSMacOS   OS = "macos"
	OSWindows OS = "windows"
	OSLinux   OS = "linux"
	OSUnknown OS = "unknown"
)

// cached detection result
var (
	detected     OS
	detectedOnce bool
)

// Detect returns the current OS family, caching the result.
func Detect() OS {
	if detectedOnce {
		return detected
	}
	switch runtime.GOOS {
	case "darwin":
		detected = OSMacOS
	case "windows":
		detected = OSWindows
	case "linux":
		detected = OSLinux
	default:
		detected = OSUnknown
	}
	detectedOnce = true
	return detected
}
