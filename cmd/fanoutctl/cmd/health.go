package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var (
	healthGRPCAddr string
	healthService  string
)

// healthCmd represents the health command
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the health of the duplicator",
	Long: `Check the health status of the duplicator over HTTP (/healthz), or with the
gRPC health protocol when --grpc is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if healthGRPCAddr != "" {
			return grpcHealth(cmd.Context())
		}

		resp, err := makeHTTPRequest(http.MethodGet, "/healthz", nil, nil)
		if err != nil {
			return fmt.Errorf("HTTP health check failed: %w", err)
		}
		defer resp.Body.Close()

		var st map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&st)
		if outputJSON {
			printOutput(st)
		} else if resp.StatusCode == http.StatusOK {
			fmt.Fprintln(out, "✓ Service is healthy (HTTP)")
		} else {
			fmt.Fprintf(out, "✗ Service is unhealthy (HTTP %d): %v\n", resp.StatusCode, st["message"])
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unhealthy: HTTP %d", resp.StatusCode)
		}
		return nil
	},
}

func grpcHealth(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := grpc.NewClient(healthGRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: healthService})
	if err != nil {
		fmt.Fprintf(out, "✗ Service is unhealthy: %v\n", err)
		return err
	}
	if outputJSON {
		printOutput(map[string]string{"status": resp.GetStatus().String()})
	} else {
		fmt.Fprintf(out, "gRPC health: %s\n", resp.GetStatus())
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("unhealthy: %s", resp.GetStatus())
	}
	return nil
}

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().StringVar(&healthGRPCAddr, "grpc", "", "gRPC address (host:port) to check instead of HTTP")
	healthCmd.Flags().StringVar(&healthService, "service", "", "gRPC health service name (empty checks the whole server)")
}
