package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/arkivo/saga/cli/styles"
)

func newListCommand(configPath *string) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List non-terminal saga executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			cutoff := time.Now().Add(-olderThan)
			execs, err := newStateStore(db, cfg).FindNonTerminal(cmd.Context(), cutoff)
			if err != nil {
				return fmt.Errorf("listing executions: %w", err)
			}

			if len(execs) == 0 {
				fmt.Println(styles.Muted.Render("No non-terminal executions."))
				return nil
			}

			fmt.Println(styles.Header.Render(fmt.Sprintf("%-38s %-24s %-14s %5s  %s",
				"ID", "TYPE", "STATUS", "STEP", "UPDATED")))
			for _, e := range execs {
				status := e.Status.String()
				fmt.Printf("%-38s %-24s %-14s %5d  %s\n",
					e.ID,
					e.Type,
					styles.StatusStyle(status).Render(status),
					e.CurrentStep,
					styles.Muted.Render(e.UpdatedAt.Format(time.RFC3339)),
				)
			}
			fmt.Println()
			fmt.Println(styles.Muted.Render(fmt.Sprintf("%d execution(s)", len(execs))))

			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Only show executions idle for at least this long")

	return cmd
}
