package commands

import (
	"bytes"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// statusView mirrors bacstackd's GET /status response.
type statusView struct {
	Role         string `json:"role" yaml:"role"`
	Addr         string `json:"addr" yaml:"addr"`
	Prefix       int    `json:"prefix" yaml:"prefix"`
	ForeignState string `json:"foreign_state,omitempty" yaml:"foreign_state,omitempty"`
	BDTSize      *int   `json:"bdt_size,omitempty" yaml:"bdt_size,omitempty"`
	FDTSize      *int   `json:"fdt_size,omitempty" yaml:"fdt_size,omitempty"`
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the node's role, address, and table sizes",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			var view statusView
			if err := getJSON("/status", &view); err != nil {
				return fmt.Errorf("status: %w", err)
			}

			out, err := render(view, func() string { return formatStatusTable(view) })
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}

func formatStatusTable(v statusView) string {
	var b bytes.Buffer
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "ROLE\t%s\n", v.Role)
	fmt.Fprintf(w, "ADDR\t%s\n", v.Addr)
	fmt.Fprintf(w, "PREFIX\t/%d\n", v.Prefix)
	if v.ForeignState != "" {
		fmt.Fprintf(w, "FOREIGN STATE\t%s\n", v.ForeignState)
	}
	if v.BDTSize != nil {
		fmt.Fprintf(w, "BDT SIZE\t%d\n", *v.BDTSize)
	}
	if v.FDTSize != nil {
		fmt.Fprintf(w, "FDT SIZE\t%d\n", *v.FDTSize)
	}
	_ = w.Flush()
	return b.String()
}
