package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/arkivo/saga/cli/styles"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(styles.Title.Render("sagactl"))
			fmt.Printf("%s %s\n", styles.Header.Render("Version:"), Version)
			fmt.Printf("%s %s\n", styles.Header.Render("Commit:"), Commit)
			fmt.Printf("%s %s\n", styles.Header.Render("Built:"), BuildDate)
			fmt.Printf("%s %s\n", styles.Header.Render("Go:"), runtime.Version())
		},
	}
}
