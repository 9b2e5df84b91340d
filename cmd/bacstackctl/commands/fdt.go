package commands

import (
	"bytes"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// fdtEntryView mirrors one row of bacstackd's GET /fdt response.
type fdtEntryView struct {
	Address   string `json:"address" yaml:"address"`
	TTL       uint16 `json:"ttl" yaml:"ttl"`
	Remaining int32  `json:"remaining" yaml:"remaining"`
}

func fdtCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fdt",
		Short: "List the node's Foreign Device Table",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			var entries []fdtEntryView
			if err := getJSON("/fdt", &entries); err != nil {
				return fmt.Errorf("fdt: %w", err)
			}

			out, err := render(entries, func() string { return formatFDTTable(entries) })
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}

func formatFDTTable(entries []fdtEntryView) string {
	var b bytes.Buffer
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tTTL\tREMAINING")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%d\t%d\n", e.Address, e.TTL, e.Remaining)
	}
	_ = w.Flush()
	return b.String()
}
