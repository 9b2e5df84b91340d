package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	appversion "github.com/bacstack/bacstack/internal/version"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print bacstackctl build information",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Println(appversion.Full("bacstackctl"))
		},
	}
}
