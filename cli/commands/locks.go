package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/arkivo/saga/cli/styles"
)

func newLocksCommand(configPath *string) *cobra.Command {
	var releaseHolder string

	cmd := &cobra.Command{
		Use:   "locks",
		Short: "List active resource locks, or force-release a holder's locks",
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

			store := newLockStore(db, cfg)
			ctx := cmd.Context()

			locks, err := store.Active(ctx)
			if err != nil {
				return fmt.Errorf("listing locks: %w", err)
			}

			if releaseHolder != "" {
				var resourceIDs []string
				for _, l := range locks {
					if l.HolderID == releaseHolder {
						resourceIDs = append(resourceIDs, l.ResourceID)
					}
				}
				if len(resourceIDs) == 0 {
					return fmt.Errorf("holder %s has no active locks", releaseHolder)
				}
				if err := store.Release(ctx, releaseHolder, resourceIDs); err != nil {
					return fmt.Errorf("releasing locks: %w", err)
				}
				fmt.Println(styles.FormatWarning(fmt.Sprintf("released %d lock(s) held by %s", len(resourceIDs), releaseHolder)))
				return nil
			}

			if len(locks) == 0 {
				fmt.Println(styles.Muted.Render("No active locks."))
				return nil
			}

			fmt.Println(styles.Header.Render(fmt.Sprintf("%-32s %-38s %s",
				"RESOURCE", "HOLDER", "EXPIRES")))
			now := time.Now()
			for _, l := range locks {
				remaining := l.ExpiresAt.Sub(now).Truncate(time.Second)
				expires := fmt.Sprintf("in %s", remaining)
				if remaining <= 0 {
					expires = "expired"
				}
				fmt.Printf("%-32s %-38s %s\n",
					l.ResourceID,
					l.HolderID,
					styles.Muted.Render(expires),
				)
			}
			fmt.Println()
			fmt.Println(styles.Muted.Render(fmt.Sprintf("%d lock(s)", len(locks))))

			return nil
		},
	}

	cmd.Flags().StringVar(&releaseHolder, "release", "", "Force-release all locks held by the given holder ID")

	return cmd
}
