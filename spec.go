package procbox

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// StdioMode selects how a child's standard stream is wired
type StdioMode int

const (
	// StdioPipe exposes the stream to the parent through a pipe
	StdioPipe StdioMode = iota
	// StdioInherit shares the parent's stream
	StdioInherit
	// StdioIgnore connects the stream to the null device
	StdioIgnore
	// StdioIPC asks for a message channel; not supported by ExecSpawner
	StdioIPC
)

// String returns the string representation of the mode
func (m StdioMode) String() string {
	switch m {
	case StdioPipe:
		return "pipe"
	case StdioInherit:
		return "inherit"
	case StdioIgnore:
		return "ignore"
	case StdioIPC:
		return "ipc"
	default:
		return fmt.Sprintf("stdio(%d)", int(m))
	}
}

// ParseStdioMode returns the mode named by s
func ParseStdioMode(s string) (StdioMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pipe":
		return StdioPipe, nil
	case "inherit":
		return StdioInherit, nil
	case "ignore", "null":
		return StdioIgnore, nil
	case "ipc":
		return StdioIPC, nil
	default:
		return StdioPipe, fmt.Errorf("%w: unknown stdio mode %q", ErrConfig, s)
	}
}

// Config is the spawn configuration of a process
type Config struct {
	// Stdio wires stdin, stdout and stderr. One entry applies to all three
	// streams, three entries are per stream, empty means all piped.
	Stdio []StdioMode
	// Env overrides entries of the parent environment
	Env map[string]string
	// Cwd is the working directory of the child
	Cwd string
	// TTY runs the child on a pseudo-terminal
	TTY bool
	// StopTimeout is the grace period between SIGTERM and SIGKILL
	StopTimeout time.Duration
}

// Stream returns the mode for stream i (0 stdin, 1 stdout, 2 stderr)
func (c Config) Stream(i int) StdioMode {
	switch len(c.Stdio) {
	case 0:
		return StdioPipe
	case 1:
		return c.Stdio[0]
	default:
		if i < len(c.Stdio) {
			return c.Stdio[i]
		}
		return StdioPipe
	}
}

// Validate checks the configuration for values the spawner cannot honour
func (c Config) Validate() error {
	if n := len(c.Stdio); n != 0 && n != 1 && n != 3 {
		return fmt.Errorf("%w: stdio needs 1 or 3 entries, got %d", ErrConfig, n)
	}
	for _, m := range c.Stdio {
		if m < StdioPipe || m > StdioIPC {
			return fmt.Errorf("%w: unknown stdio mode %d", ErrConfig, int(m))
		}
	}
	if c.StopTimeout < 0 {
		return fmt.Errorf("%w: negative stop timeout", ErrConfig)
	}
	return nil
}

// Clone creates a deep copy of the Config
func (c Config) Clone() Config {
	clone := c
	if c.Stdio != nil {
		clone.Stdio = append([]StdioMode(nil), c.Stdio...)
	}
	if c.Env != nil {
		clone.Env = maps.Clone(c.Env)
	}
	return clone
}

// Spec describes a resource to create: the command, its identity and
// its spawn configuration
type Spec struct {
	// Name identifies the resource; services get a generated name when empty
	Name string
	// Description is free text shown in listings
	Description string
	// Exec is the executable path or command name
	Exec string
	// Args are the command arguments, not including Exec
	Args []string
	// Config is the spawn configuration
	Config
	// Pool is the owning pool for Supervisor.Service; nil selects the
	// supervisor's implicit pool
	Pool *ServicePool
}

// Clone creates a deep copy of the Spec. The Pool reference is shared.
func (s *Spec) Clone() *Spec {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Config = s.Config.Clone()
	if s.Args != nil {
		clone.Args = append([]string(nil), s.Args...)
	}
	return &clone
}
