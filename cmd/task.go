package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/moutai-scheduler/internal/scheduler"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Run scheduled tasks by hand",
	}
	cmd.AddCommand(newTaskRunCmd())
	cmd.AddCommand(newTaskListCmd())
	return cmd
}

func newTaskRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <kind>",
		Short: "Fire one task immediately, outside its cron line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			kind := scheduler.TaskKind(args[0])
			if err := a.sched.RunNow(ctx, kind); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "task %s complete\n", kind)
			return nil
		},
	}
}

func newTaskListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List runnable task kinds",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			var kinds []string
			for _, k := range a.sched.Kinds() {
				kinds = append(kinds, string(k))
			}
			fmt.Fprintln(os.Stdout, strings.Join(kinds, "\n"))
			return nil
		},
	}
}
