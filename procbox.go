package procbox

import (
	"io/fs"
	"time"
)

// Process and pool defaults
const (
	// DefaultStopTimeout is how long a child gets to exit after SIGTERM
	// before it is sent SIGKILL
	DefaultStopTimeout = 5 * time.Second

	// DefaultWatchDebounce is the default debounce time for state file watching
	DefaultWatchDebounce = 10 * time.Millisecond

	// DefaultDrainTimeout bounds how long an exit drain may take
	DefaultDrainTimeout = 30 * time.Second

	// StateFileExt is the extension of state records written to a state directory
	StateFileExt = ".json"
)

// File modes
const (
	// DirMode is the default mode for created directories
	DirMode = 0o755

	// FileMode is the default mode for created files
	FileMode fs.FileMode = 0o644
)

// Operation represents a lifecycle operation type
type Operation int

const (
	// OpUnknown represents an unknown operation
	OpUnknown Operation = iota
	// OpOpen opens a resource (spawns the process)
	OpOpen
	// OpClose closes a resource (terminates the process)
	OpClose
	// OpStat collects runtime statistics
	OpStat
	// OpSpawn is the spawn step of an open
	OpSpawn
	// OpStart starts a service
	OpStart
	// OpStop stops a service
	OpStop
	// OpRestart stops then starts a service
	OpRestart
	// OpCreate adds a resource to a pool
	OpCreate
	// OpDrain closes registered pools at exit
	OpDrain
	// OpWatch observes a state directory
	OpWatch
	// OpExit reports an unexpected child exit
	OpExit
)

// Operation string constants
const (
	opUnknownStr = "unknown"
	opOpenStr    = "open"
	opCloseStr   = "close"
	opStatStr    = "stat"
	opSpawnStr   = "spawn"
	opStartStr   = "start"
	opStopStr    = "stop"
	opRestartStr = "restart"
	opCreateStr  = "create"
	opDrainStr   = "drain"
	opWatchStr   = "watch"
	opExitStr    = "exit"
)

// String returns the string representation of an Operation
func (op Operation) String() string {
	switch op {
	case OpOpen:
		return opOpenStr
	case OpClose:
		return opCloseStr
	case OpStat:
		return opStatStr
	case OpSpawn:
		return opSpawnStr
	case OpStart:
		return opStartStr
	case OpStop:
		return opStopStr
	case OpRestart:
		return opRestartStr
	case OpCreate:
		return opCreateStr
	case OpDrain:
		return opDrainStr
	case OpWatch:
		return opWatchStr
	case OpExit:
		return opExitStr
	default:
		return opUnknownStr
	}
}
