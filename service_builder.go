package procbox

import (
	"fmt"
	"strings"
	"time"
)

// ServiceBuilder provides a fluent interface for describing a service:
// its command, environment, stdio wiring and stop behaviour.
type ServiceBuilder struct {
	// Name is the service name
	Name string
	// Description is free text shown in listings
	Description string
	// Cmd is the command and arguments to execute
	Cmd []string
	// Cwd is the working directory for the service
	Cwd string
	// Env contains environment variables for the service
	Env map[string]string
	// Stdio wires the standard streams, see Config.Stdio
	Stdio []StdioMode
	// TTY runs the service on a pseudo-terminal
	TTY bool
	// StopTimeout is the grace period between SIGTERM and SIGKILL
	StopTimeout time.Duration
	// Pool is the owning pool, nil for the supervisor's implicit pool
	Pool *ServicePool
}

// NewServiceBuilder creates a new ServiceBuilder with default settings
func NewServiceBuilder(name string) *ServiceBuilder {
	return &ServiceBuilder{
		Name:        name,
		Env:         make(map[string]string),
		StopTimeout: DefaultStopTimeout,
	}
}

// WithCmd sets the command to execute
func (b *ServiceBuilder) WithCmd(cmd []string) *ServiceBuilder {
	b.Cmd = cmd
	return b
}

// WithExec sets the command from an executable and its arguments
func (b *ServiceBuilder) WithExec(exec string, args ...string) *ServiceBuilder {
	b.Cmd = append([]string{exec}, args...)
	return b
}

// WithDescription sets the description
func (b *ServiceBuilder) WithDescription(desc string) *ServiceBuilder {
	b.Description = desc
	return b
}

// WithCwd sets the working directory
func (b *ServiceBuilder) WithCwd(cwd string) *ServiceBuilder {
	b.Cwd = cwd
	return b
}

// WithEnv adds an environment variable
func (b *ServiceBuilder) WithEnv(key, value string) *ServiceBuilder {
	b.Env[key] = value
	return b
}

// WithStdio sets the stdio modes, one for all streams or one per stream
func (b *ServiceBuilder) WithStdio(modes ...StdioMode) *ServiceBuilder {
	b.Stdio = modes
	return b
}

// WithTTY runs the service on a pseudo-terminal
func (b *ServiceBuilder) WithTTY(enabled bool) *ServiceBuilder {
	b.TTY = enabled
	return b
}

// WithStopTimeout sets the grace period before SIGKILL
func (b *ServiceBuilder) WithStopTimeout(d time.Duration) *ServiceBuilder {
	b.StopTimeout = d
	return b
}

// WithPool sets the owning pool
func (b *ServiceBuilder) WithPool(pool *ServicePool) *ServiceBuilder {
	b.Pool = pool
	return b
}

// Build validates the builder and returns the Spec it describes
func (b *ServiceBuilder) Build() (Spec, error) {
	if b.Name == "" {
		return Spec{}, fmt.Errorf("%w: service name not specified", ErrConfig)
	}
	if len(b.Cmd) == 0 || b.Cmd[0] == "" {
		return Spec{}, fmt.Errorf("%w: command not specified", ErrConfig)
	}

	spec := Spec{
		Name:        b.Name,
		Description: b.Description,
		Exec:        b.Cmd[0],
		Args:        append([]string(nil), b.Cmd[1:]...),
		Config: Config{
			Stdio:       b.Stdio,
			Env:         b.Env,
			Cwd:         b.Cwd,
			TTY:         b.TTY,
			StopTimeout: b.StopTimeout,
		},
		Pool: b.Pool,
	}
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return *spec.Clone(), nil
}

// Register builds the spec and adds the service to s
func (b *ServiceBuilder) Register(s *Supervisor) (*Service, error) {
	spec, err := b.Build()
	if err != nil {
		return nil, err
	}
	return s.Service(spec.Name, spec)
}

// CommandLine renders the command as a shell would need to see it
func (b *ServiceBuilder) CommandLine() string {
	return commandLine(b.Cmd)
}

// commandLine quotes each part of cmd for display
func commandLine(cmd []string) string {
	parts := make([]string, 0, len(cmd))
	for _, part := range cmd {
		parts = append(parts, shellQuote(part))
	}
	return strings.Join(parts, " ")
}

// shellQuote escapes a string for safe use in shell scripts
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}

	if !needsShellQuoting(s) {
		return s
	}

	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}

// needsShellQuoting checks if a string contains characters that require shell quoting
func needsShellQuoting(s string) bool {
	// Characters that require quoting in shell
	const specialChars = " \t\n'\"\\$`!*?[](){}<>|&;~"

	for _, r := range s {
		if strings.ContainsRune(specialChars, r) {
			return true
		}
	}
	return false
}
