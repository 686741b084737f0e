package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

// flushCmd drops every task waiting in the low priority queue.
var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Flush the low priority queue",
	Long: `Ask the duplicator to discard the queued low priority deliveries.
Deliveries already in progress are not affected.

When the server guards the flush route, pass a token with --token or
FANOUT_TOKEN (see 'fanoutctl token').`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := makeHTTPRequest(http.MethodPost, "/flush/low_priority", nil, nil)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusAccepted {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
			return fmt.Errorf("flush rejected: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
		}

		var result string
		_ = json.NewDecoder(resp.Body).Decode(&result)
		if outputJSON {
			printOutput(map[string]any{"status": resp.StatusCode, "result": result})
		} else {
			fmt.Fprintln(out, "✓ Low priority flush requested")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(flushCmd)
}
