package commands

import (
	"bytes"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// bdtEntryView mirrors one row of bacstackd's GET /bdt or GET /read-bdt
// response.
type bdtEntryView struct {
	Address string `json:"address" yaml:"address"`
	Mask    string `json:"mask" yaml:"mask"`
}

func bdtCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bdt",
		Short: "List the node's local Broadcast Distribution Table",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			var entries []bdtEntryView
			if err := getJSON("/bdt", &entries); err != nil {
				return fmt.Errorf("bdt: %w", err)
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

func formatBDTTable(entries []bdtEntryView) string {
	var b bytes.Buffer
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tMASK")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\n", e.Address, e.Mask)
	}
	_ = w.Flush()
	return b.String()
}
