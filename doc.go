// Package procbox manages child processes as resources with an explicit
// open/close lifecycle, and groups them into pools and supervisors that
// apply lifecycle operations to many processes at once.
//
// A Process is the basic resource. Open spawns the child, Close sends
// SIGTERM to its process group, escalates to SIGKILL after the stop
// timeout and waits for the child to be reaped:
//
//	p := procbox.NewProcess("sleep", []string{"60"}, procbox.Config{})
//	if err := p.Open(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Close(ctx)
//
//	st, err := p.Stat(ctx)
//	fmt.Printf("pid %d, rss %d\n", st.PID, st.MemoryRSS)
//
// Concurrent Close calls share one close. Operations bracketed with
// Active and Inactive, such as Stat, delay a Close until they finish.
//
// # Pools
//
// A Pool owns resources built by a Factory. Stat and Close fan out to
// every resource concurrently, wait for all of them and report the first
// error; results keep query order:
//
//	pool := procbox.NewProcessPool(procbox.WithAutoOpen(true))
//	pool.Spawn("sleep", []string{"60"}, procbox.Config{})
//	stats, err := pool.Stat(ctx, procbox.Where{"state": "opened"})
//
// # Services and Supervisors
//
// A Service is a named Process that can be stopped and started again.
// A Supervisor owns service pools and starts, stops and stats all of
// their services together:
//
//	sup := procbox.NewSupervisor("web")
//	sup.Service("api", procbox.Spec{Exec: "./api"})
//	sup.Service("worker", procbox.Spec{Exec: "./worker", Args: []string{"-q"}})
//	err := sup.Start(ctx)
//
// # Exit Draining
//
// Every pool registers with an exit registry, DefaultRegistry unless told
// otherwise. An ExitHook closes every registered pool once, on SIGINT or
// SIGTERM or when the program calls Run, so no child outlives its parent:
//
//	hook := procbox.NewExitHook(nil)
//	hook.Listen(ctx)
//	defer hook.Run(ctx, 0)
//
// # State Files
//
// With WithStateDir a process writes a JSON StateRecord on every state
// change. ReadStateDir, WatchStateDir and WaitState let another process
// observe them.
package procbox
