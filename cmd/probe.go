package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/example/face-access/internal/grpchealth"
)

var probeTimeout time.Duration

var probeCmd = &cobra.Command{
	Use:   "probe [addr]",
	Short: "Check a running kiosk through its gRPC health endpoint",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := cfg.GRPCAddr
		if len(args) == 1 {
			addr = args[0]
		}
		if addr == "" {
			return fmt.Errorf("no health address: pass one or set grpc_addr")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
		defer cancel()
		status, err := grpchealth.Probe(ctx, addr, logger)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), grpchealth.Describe(status))
		if status != grpc_health_v1.HealthCheckResponse_SERVING {
			return fmt.Errorf("kiosk at %s is %s", addr, grpchealth.Describe(status))
		}
		return nil
	},
}

func init() {
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 3*time.Second, "Probe deadline")
	rootCmd.AddCommand(probeCmd)
}
