package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// httpClient is the HTTP client used to reach a bacstackd daemon's
	// inspection endpoint.
	httpClient = &http.Client{Timeout: 5 * time.Second}

	// serverAddr is the daemon's inspection endpoint address (host:port).
	serverAddr string

	// outputFormat controls the output format for all commands (table, json, yaml).
	outputFormat string
)

// rootCmd is the top-level cobra command for bacstackctl.
var rootCmd = &cobra.Command{
	Use:   "bacstackctl",
	Short: "CLI client for the bacstackd node",
	Long:  "bacstackctl queries a running bacstackd node's inspection endpoint for BDT/FDT/session snapshots and issues BVLL management requests.",

	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:8080",
		"bacstackd inspection endpoint address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json, yaml")

	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(bdtCmd())
	rootCmd.AddCommand(fdtCmd())
	rootCmd.AddCommand(readBDTCmd())
	rootCmd.AddCommand(registerCmd())
	rootCmd.AddCommand(distributeCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// errorResponse mirrors the JSON shape bacstackd writes on handler errors.
type errorResponse struct {
	Error string `json:"error"`
}

// getJSON issues a GET request against path on the daemon and decodes the
// JSON response body into out.
func getJSON(path string, out any) error {
	resp, err := httpClient.Get("http://" + serverAddr + path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

// postJSON issues a POST request carrying body as JSON against path on the
// daemon and decodes the JSON response body into out.
func postJSON(path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	resp, err := httpClient.Post("http://"+serverAddr+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode >= http.StatusBadRequest {
		var errResp errorResponse
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("daemon: %s", errResp.Error)
		}
		return fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
