package procbox

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Stat is a point-in-time snapshot of a process
type Stat struct {
	ID        int
	Name      string
	PID       int
	State     State
	StartedAt time.Time
	Uptime    time.Duration

	// Exited is set when the child has exited but the resource is still open
	Exited   bool
	ExitCode int

	// Resource usage, zero when it could not be collected
	CPUPercent float64
	MemoryRSS  uint64
	MemoryVMS  uint64
	NumThreads int32

	// Service is the owning service for supervisor stats
	Service *Service

	// Err is the error of this entry in a batched stat
	Err error
}

// Stat collects a snapshot of the running child. It counts as an active
// operation, so a concurrent Close waits for it. Usage figures are best
// effort; the identity fields are filled in even when Stat fails.
func (p *Process) Stat(ctx context.Context) (Stat, error) {
	st := Stat{
		ID:       p.ID,
		Name:     p.label(),
		State:    p.State(),
		ExitCode: -1,
	}
	if err := p.lc.active(); err != nil {
		return st, &OpError{Op: OpStat, Name: p.label(), Err: err}
	}
	defer p.lc.inactive()

	p.mu.Lock()
	h := p.handle
	st.StartedAt = p.startedAt
	p.mu.Unlock()

	st.PID = h.Pid()
	st.Uptime = time.Since(st.StartedAt)

	select {
	case <-h.Done():
		st.Exited = true
		st.ExitCode = h.ExitCode()
		return st, nil
	default:
	}

	if err := ctx.Err(); err != nil {
		return st, &OpError{Op: OpStat, Name: p.label(), Err: err}
	}
	if err := collectUsage(ctx, &st); err != nil {
		p.log().Debug("collect usage", "name", p.label(), "pid", st.PID, "error", err)
	}
	return st, nil
}

func collectUsage(ctx context.Context, st *Stat) error {
	proc, err := process.NewProcessWithContext(ctx, int32(st.PID))
	if err != nil {
		return err
	}
	if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
		st.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		st.MemoryRSS = mem.RSS
		st.MemoryVMS = mem.VMS
	}
	if n, err := proc.NumThreadsWithContext(ctx); err == nil {
		st.NumThreads = n
	}
	return nil
}
