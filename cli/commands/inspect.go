package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/arkivo/saga/cli/styles"
)

func newInspectCommand(configPath *string) *cobra.Command {
	var showContext bool

	cmd := &cobra.Command{
		Use:   "inspect <saga-id>",
		Short: "Show the state and step history of one execution",
		Args:  cobra.ExactArgs(1),
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

			exec, err := newStateStore(db, cfg).Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			status := exec.Status.String()
			fmt.Println(styles.Title.Render(exec.Type))
			fmt.Printf("%s %s\n", styles.Header.Render("ID:"), exec.ID)
			fmt.Printf("%s %s\n", styles.Header.Render("Status:"), styles.StatusStyle(status).Render(status))
			fmt.Printf("%s %d\n", styles.Header.Render("Current step:"), exec.CurrentStep)
			fmt.Printf("%s %s\n", styles.Header.Render("Started:"), exec.StartedAt.Format(time.RFC3339))
			fmt.Printf("%s %s\n", styles.Header.Render("Updated:"), exec.UpdatedAt.Format(time.RFC3339))
			if exec.CompletedAt != nil {
				fmt.Printf("%s %s\n", styles.Header.Render("Completed:"), exec.CompletedAt.Format(time.RFC3339))
			}
			if exec.IdempotencyKey != "" {
				fmt.Printf("%s %s\n", styles.Header.Render("Idempotency key:"), exec.IdempotencyKey)
			}
			if len(exec.ResourceIDs) > 0 {
				fmt.Printf("%s %v\n", styles.Header.Render("Resources:"), exec.ResourceIDs)
			}
			if exec.FailureReason != "" {
				fmt.Printf("%s %s\n", styles.Header.Render("Failure:"), styles.ErrorStyle.Render(exec.FailureReason))
			}

			if len(exec.Steps) > 0 {
				fmt.Println()
				fmt.Println(styles.Subtitle.Render("Steps"))
				fmt.Println(styles.Header.Render(fmt.Sprintf("%-28s %-16s %-12s %7s  %s",
					"NAME", "CLASSIFICATION", "STATUS", "ATTEMPT", "ERROR")))
				for _, rec := range exec.Steps {
					fmt.Printf("%-28s %-16s %-12s %7d  %s\n",
						rec.Name,
						rec.Classification,
						rec.Status,
						rec.Attempt,
						styles.Muted.Render(rec.Error),
					)
				}
			}

			if showContext && len(exec.Context) > 0 {
				data, err := json.MarshalIndent(exec.Context, "", "  ")
				if err != nil {
					return fmt.Errorf("rendering context: %w", err)
				}
				fmt.Println()
				fmt.Println(styles.Subtitle.Render("Context"))
				fmt.Println(string(data))
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&showContext, "context", false, "Print the execution context as JSON")

	return cmd
}
