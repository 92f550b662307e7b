package procbox

import "github.com/axondata/go-procbox/internal/unix"

// Version is the current version of the go-procbox library
const Version = "0.1.0"

// VersionInfo contains detailed version information
type VersionInfo struct {
	// Version is the semantic version
	Version string
	// Platform names the spawn backend in use
	Platform string
	// ProcessGroups indicates children are started in their own process group
	ProcessGroups bool
}

// GetVersion returns the current version information
func GetVersion() VersionInfo {
	return VersionInfo{
		Version:       Version,
		Platform:      "os/exec",
		ProcessGroups: unix.SysProcAttr() != nil,
	}
}
