package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

type registerRequest struct {
	Target string `json:"target"`
	TTL    uint16 `json:"ttl"`
}

type registerResponse struct {
	Result string `json:"result"`
}

func registerCmd() *cobra.Command {
	var ttl uint16

	cmd := &cobra.Command{
		Use:   "register <bbmd-host:port>",
		Short: "Register this node as a foreign device with a peer BBMD",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			req := registerRequest{Target: args[0], TTL: ttl}
			var resp registerResponse
			if err := postJSON("/register", req, &resp); err != nil {
				return fmt.Errorf("register %s: %w", args[0], err)
			}
			fmt.Printf("result: %s\n", resp.Result)
			return nil
		},
	}
	cmd.Flags().Uint16Var(&ttl, "ttl", 300, "registration lifetime in seconds (1..65535)")
	return cmd
}
