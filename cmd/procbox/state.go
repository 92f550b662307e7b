package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/axondata/go-procbox"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "list the state of every process in the state directory",
	RunE:  doStatus,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "print state changes as they happen",
	RunE:  doWatch,
}

var waitCmd = &cobra.Command{
	Use:   "wait NAME [STATE...]",
	Short: "block until a process reaches one of the given states",
	Args:  cobra.MinimumNArgs(1),
	RunE:  doWait,
}

var flagWaitTimeout time.Duration // value of wait --timeout

func init() {
	waitCmd.Flags().DurationVar(&flagWaitTimeout, "timeout", 0, "give up after this long (0 waits forever)")
}

func doStatus(cmd *cobra.Command, _ []string) error {
	dir, err := stateDir()
	if err != nil {
		return err
	}
	records, err := procbox.ReadStateDir(dir)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tID\tPID\tSTATE\tSINCE\tEXIT")
	for _, rec := range records {
		fmt.Fprintln(w, formatRecord(rec))
	}
	return w.Flush()
}

func doWatch(cmd *cobra.Command, _ []string) error {
	dir, err := stateDir()
	if err != nil {
		return err
	}
	events, cleanup, err := procbox.WatchStateDir(cmd.Context(), dir)
	if err != nil {
		return err
	}
	defer func() { _ = cleanup() }()

	for event := range events {
		if event.Err != nil {
			fmt.Fprintf(os.Stderr, "watch error: %v\n", event.Err)
			continue
		}
		fmt.Println(strings.ReplaceAll(formatRecord(event.Record), "\t", " "))
	}
	return nil
}

func doWait(cmd *cobra.Command, args []string) error {
	dir, err := stateDir()
	if err != nil {
		return err
	}

	states := make([]procbox.State, 0, len(args)-1)
	for _, arg := range args[1:] {
		st, err := procbox.ParseState(arg)
		if err != nil {
			return err
		}
		states = append(states, st)
	}

	ctx := cmd.Context()
	if flagWaitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flagWaitTimeout)
		defer cancel()
	}

	rec, err := procbox.WaitState(ctx, dir, args[0], states...)
	if err != nil {
		return err
	}
	fmt.Println(strings.ReplaceAll(formatRecord(rec), "\t", " "))
	return nil
}

func formatRecord(rec procbox.StateRecord) string {
	exit := "-"
	if rec.ExitCode >= 0 {
		exit = fmt.Sprint(rec.ExitCode)
	}
	return fmt.Sprintf("%s\t%d\t%d\t%s\t%s\t%s",
		rec.Name, rec.ID, rec.PID, rec.State, rec.Since.Format(time.RFC3339), exit)
}

// commandLine renders exec and args for log output
func commandLine(exec string, args []string) string {
	return strings.Join(append([]string{exec}, args...), " ")
}
