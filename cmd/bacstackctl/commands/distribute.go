package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

type distributeRequest struct {
	Target  string `json:"target"`
	NPDUHex string `json:"npdu_hex"`
}

type distributeResponse struct {
	Result string `json:"result"`
}

func distributeCmd() *cobra.Command {
	var npduHex string

	cmd := &cobra.Command{
		Use:   "distribute <bbmd-host:port>",
		Short: "Ask a peer BBMD to distribute a broadcast NPDU on our behalf",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			req := distributeRequest{Target: args[0], NPDUHex: npduHex}
			var resp distributeResponse
			if err := postJSON("/distribute", req, &resp); err != nil {
				return fmt.Errorf("distribute %s: %w", args[0], err)
			}
			fmt.Printf("result: %s\n", resp.Result)
			return nil
		},
	}
	cmd.Flags().StringVar(&npduHex, "npdu-hex", "", "hex-encoded NPDU payload to distribute")
	return cmd
}
