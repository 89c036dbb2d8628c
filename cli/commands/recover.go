package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/arkivo/saga/adapters"
	"github.com/arkivo/saga/cli/styles"
)

func newRecoverCommand(configPath *string) *cobra.Command {
	var graceWindow time.Duration
	var markFailed string
	var reason string

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "List orphaned executions, or force one to failed",
		Long: "Lists non-terminal executions idle longer than the grace window.\n" +
			"These are the executions a recovery worker would pick up. Use\n" +
			"--mark-failed to force a stuck execution to failed so an operator\n" +
			"can intervene manually.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if graceWindow == 0 {
				graceWindow = cfg.Recovery.GraceWindow
			}

			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			store := newStateStore(db, cfg)
			ctx := cmd.Context()

			if markFailed != "" {
				if reason == "" {
					return fmt.Errorf("--reason is required with --mark-failed")
				}
				exec, err := store.Get(ctx, markFailed)
				if err != nil {
					return err
				}
				if exec.Status.IsTerminal() {
					return fmt.Errorf("execution %s is already terminal (%s)", markFailed, exec.Status)
				}
				if err := store.UpdateStatus(ctx, markFailed, adapters.StatusFailed, reason); err != nil {
					return fmt.Errorf("marking execution failed: %w", err)
				}
				fmt.Println(styles.FormatWarning(fmt.Sprintf("execution %s marked failed: %s", markFailed, reason)))
				return nil
			}

			cutoff := time.Now().Add(-graceWindow)
			execs, err := store.FindNonTerminal(ctx, cutoff)
			if err != nil {
				return fmt.Errorf("scanning for orphans: %w", err)
			}

			if len(execs) == 0 {
				fmt.Println(styles.FormatSuccess("no orphaned executions"))
				return nil
			}

			fmt.Println(styles.Header.Render(fmt.Sprintf("%-38s %-24s %-14s  %s",
				"ID", "TYPE", "STATUS", "IDLE")))
			now := time.Now()
			for _, e := range execs {
				status := e.Status.String()
				fmt.Printf("%-38s %-24s %-14s  %s\n",
					e.ID,
					e.Type,
					styles.StatusStyle(status).Render(status),
					styles.Muted.Render(now.Sub(e.UpdatedAt).Truncate(time.Second).String()),
				)
			}
			fmt.Println()
			fmt.Println(styles.FormatWarning(fmt.Sprintf("%d orphaned execution(s); a running recovery worker will resume them", len(execs))))

			return nil
		},
	}

	cmd.Flags().DurationVar(&graceWindow, "grace-window", 0, "Idle time before an execution is considered orphaned")
	cmd.Flags().StringVar(&markFailed, "mark-failed", "", "Force the given execution to failed")
	cmd.Flags().StringVar(&reason, "reason", "", "Failure reason recorded with --mark-failed")

	return cmd
}
