package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	dupTargets       []string
	dupMethod        string
	dupData          string
	dupHeaders       []string
	dupTargetsHeader string
	dupRequestID     string
)

// duplicateCmd sends one request to be duplicated to every --target.
var duplicateCmd = &cobra.Command{
	Use:   "duplicate [high|low]",
	Short: "Duplicate a request to a set of targets",
	Long: `Send a request to the duplicator, which copies it to every target.

Examples:
  fanoutctl duplicate high --target http://a:9000/hook --target http://b:9000/hook --data '{"id":1}'
  fanoutctl duplicate low --target http://a:9000/hook --data @payload.json --header Content-Type:application/json`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"high", "low"},
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := duplicatePath(args[0])
		if err != nil {
			return err
		}
		if len(dupTargets) == 0 {
			return fmt.Errorf("at least one --target is required")
		}

		body, err := readData(dupData)
		if err != nil {
			return err
		}
		header, err := parseHeaders(dupHeaders)
		if err != nil {
			return err
		}
		targets, err := json.Marshal(dupTargets)
		if err != nil {
			return err
		}
		header.Set(dupTargetsHeader, string(targets))
		if dupRequestID != "" {
			header.Set("X-Request-Id", dupRequestID)
		}

		resp, err := makeHTTPRequest(strings.ToUpper(dupMethod), path, header, body)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		var result string
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("HTTP %d: unexpected response: %w", resp.StatusCode, err)
		}

		summary := map[string]any{
			"status":     resp.StatusCode,
			"result":     result,
			"request_id": resp.Header.Get("X-Request-Id"),
			"targets":    len(dupTargets),
			"enqueued":   resp.Header.Get("X-Enqueued-Count"),
		}
		if outputJSON {
			printOutput(summary)
		} else {
			fmt.Fprintf(out, "%s (HTTP %d) request %s to %d target(s)\n", result, resp.StatusCode, summary["request_id"], len(dupTargets))
		}
		if resp.StatusCode != http.StatusAccepted {
			if n := summary["enqueued"]; n != "" && n != "0" {
				return fmt.Errorf("duplicate rejected: HTTP %d, %s of %d target(s) still enqueued", resp.StatusCode, n, len(dupTargets))
			}
			return fmt.Errorf("duplicate rejected: HTTP %d", resp.StatusCode)
		}
		return nil
	},
}

func duplicatePath(priority string) (string, error) {
	switch strings.ToLower(priority) {
	case "high":
		return "/duplicate/high_priority", nil
	case "low":
		return "/duplicate/low_priority", nil
	}
	return "", fmt.Errorf("unknown priority %q (use high or low)", priority)
}

// readData returns s, or the contents of the file named after a leading @.
// "@-" reads stdin.
func readData(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "@") {
		if s == "" {
			return nil, nil
		}
		return []byte(s), nil
	}
	name := strings.TrimPrefix(s, "@")
	if name == "-" {
		return io.ReadAll(os.Stdin)
	}
	b, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read data file: %w", err)
	}
	return b, nil
}

// parseHeaders reads "Key: value" pairs.
func parseHeaders(hs []string) (http.Header, error) {
	h := make(http.Header)
	for _, kv := range hs {
		k, v, ok := strings.Cut(kv, ":")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid header %q (expected Key: value)", kv)
		}
		h.Add(k, strings.TrimSpace(v))
	}
	return h, nil
}

func init() {
	rootCmd.AddCommand(duplicateCmd)

	duplicateCmd.Flags().StringArrayVarP(&dupTargets, "target", "t", nil, "target URL (repeatable)")
	duplicateCmd.Flags().StringVarP(&dupMethod, "method", "X", http.MethodPost, "HTTP method to duplicate")
	duplicateCmd.Flags().StringVarP(&dupData, "data", "d", "", "request body, or @file to read it from a file")
	duplicateCmd.Flags().StringArrayVarP(&dupHeaders, "header", "H", nil, "extra header as 'Key: value' (repeatable)")
	duplicateCmd.Flags().StringVar(&dupTargetsHeader, "targets-header", "X-Duplicate-Targets", "header carrying the target list")
	duplicateCmd.Flags().StringVar(&dupRequestID, "request-id", "", "request id to send instead of a generated one")
}
