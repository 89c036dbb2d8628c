package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/arkivo/saga/cli/styles"
)

func newMigrateCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the PostgreSQL tables used by the saga stores",
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

			ctx := cmd.Context()

			stores := []struct {
				name string
				init func() error
			}{
				{cfg.Tables.Executions, func() error { return newStateStore(db, cfg).Initialize(ctx) }},
				{cfg.Tables.Locks, func() error { return newLockStore(db, cfg).Initialize(ctx) }},
				{cfg.Tables.Idempotency, func() error { return newIdempotencyStore(db, cfg).Initialize(ctx) }},
				{cfg.Tables.Dispatch, func() error { return newDispatchStore(db, cfg).Initialize(ctx) }},
			}

			for _, s := range stores {
				if err := s.init(); err != nil {
					return fmt.Errorf("initializing %s: %w", s.name, err)
				}
				fmt.Println(styles.FormatSuccess(fmt.Sprintf("table %s ready", styles.Code.Render(s.name))))
			}

			return nil
		},
	}

	return cmd
}
