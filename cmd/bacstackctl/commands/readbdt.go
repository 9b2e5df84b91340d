package commands

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

func readBDTCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read-bdt <peer-host:port>",
		Short: "Query a peer BBMD's live Broadcast Distribution Table",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			target := args[0]

			var entries []bdtEntryView
			path := "/read-bdt?target=" + url.QueryEscape(target)
			if err := getJSON(path, &entries); err != nil {
				return fmt.Errorf("read-bdt %s: %w", target, err)
			}

			out, err := render(entries, func() string { return formatBDTTable(entries) })
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}
